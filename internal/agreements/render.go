package agreements

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
)

// countersignPage is the HTML rendered onto the countersignature page
// before conversion to PDF.
var countersignPage = template.Must(template.New("countersign").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Countersignature</title></head>
<body>
<h1>{{.FrameworkName}}</h1>
<p>Framework agreement between the Crown Commercial Service and
{{.SupplierName}} (supplier {{.SupplierID}}).</p>
{{if .SignerName}}<p>Signed for the supplier by {{.SignerName}}{{if .SignerRole}}, {{.SignerRole}}{{end}}.</p>{{end}}
{{if .AgreementVersion}}<p>Agreement version: {{.AgreementVersion}}</p>{{end}}
<p>Countersigned on behalf of the Crown Commercial Service on
{{.CountersignedAt.Format "2 January 2006"}}.</p>
</body>
</html>`))

// signaturePages are rendered in signing order: the supplier details page
// first, then the page the signer completes. Page numbers continue from
// any framework body pages that precede them.
var signaturePages = []*template.Template{
	template.Must(template.New("details").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Framework agreement</title></head>
<body>
<h1>{{.Data.FrameworkName}}</h1>
<h2>Supplier details</h2>
<p>{{.Data.RegisteredName}} (supplier {{.Data.SupplierID}}){{if .Data.CompanyNumber}}, company number {{.Data.CompanyNumber}}{{end}}.</p>
{{if .Data.RegisteredAddress}}<p>Registered address: {{.Data.RegisteredAddress}}</p>{{end}}
{{if .Data.ContactName}}<p>Contact: {{.Data.ContactName}}{{if .Data.ContactEmail}} ({{.Data.ContactEmail}}){{end}}</p>{{end}}
<h2>Lots awarded</h2>
<ul>{{range .Data.Lots}}<li>{{.}}</li>{{end}}</ul>
<footer>Page {{.Page}}</footer>
</body>
</html>`)),
	template.Must(template.New("signature").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Signature</title></head>
<body>
<h1>{{.Data.FrameworkName}}</h1>
<p>Framework agreement between the Crown Commercial Service and
{{.Data.RegisteredName}} (supplier {{.Data.SupplierID}}).</p>
{{if .Data.ESignature}}<p>Sign electronically to accept the framework agreement.</p>{{else}}<p>Signed for and on behalf of the supplier:</p>
<p>Name: ________________________</p>
<p>Role: ________________________</p>
<p>Date: ________________________</p>{{end}}
<footer>Page {{.Page}}</footer>
</body>
</html>`)),
}

// ExecRenderer shells out to an HTML-to-PDF converter that reads HTML on
// stdin and writes PDF on stdout (wkhtmltopdf with "- -" arguments).
type ExecRenderer struct {
	Command string
	Args    []string
}

func (r ExecRenderer) Render(ctx context.Context, data CountersignData) ([]byte, error) {
	var html bytes.Buffer
	if err := countersignPage.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render countersignature html: %w", err)
	}
	return r.toPDF(ctx, &html)
}

func (r ExecRenderer) RenderSignature(ctx context.Context, data SignatureData) ([][]byte, error) {
	pages := make([][]byte, 0, len(signaturePages))
	for i, tmpl := range signaturePages {
		var html bytes.Buffer
		err := tmpl.Execute(&html, struct {
			Data SignatureData
			Page int
		}{data, data.PageOffset + i + 1})
		if err != nil {
			return nil, fmt.Errorf("render agreement %s html: %w", tmpl.Name(), err)
		}
		pdf, err := r.toPDF(ctx, &html)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pdf)
	}
	return pages, nil
}

func (r ExecRenderer) toPDF(ctx context.Context, html *bytes.Buffer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Stdin = html
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", r.Command, err, stderr.String())
	}
	return out.Bytes(), nil
}

// ExecMerger shells out to a PDF concatenation tool that takes input file
// paths followed by an output path (pdfunite).
type ExecMerger struct {
	Command string
}

func (m ExecMerger) Merge(ctx context.Context, docs ...[]byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "agreement-merge")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	args := make([]string, 0, len(docs)+1)
	for i, doc := range docs {
		path := filepath.Join(dir, fmt.Sprintf("part-%d.pdf", i))
		if err := os.WriteFile(path, doc, 0o600); err != nil {
			return nil, err
		}
		args = append(args, path)
	}
	outPath := filepath.Join(dir, "merged.pdf")
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, m.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", m.Command, err, stderr.String())
	}
	return os.ReadFile(outPath)
}
