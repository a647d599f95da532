package agreements

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
	"dmlifecycle/internal/store"
)

// SignatureData is the context rendered onto the signature copy of a
// framework agreement. The about-you fields come from the supplier's
// declaration; Lots lists the names of lots the supplier was awarded,
// in framework lot order. PageOffset numbers the rendered pages when
// they follow a framework body document.
type SignatureData struct {
	FrameworkSlug     string
	FrameworkName     string
	SupplierID        int
	SupplierName      string
	RegisteredName    string
	RegisteredAddress string
	CompanyNumber     string
	ContactName       string
	ContactEmail      string
	Lots              []string
	ESignature        bool
	PageOffset        int
	GeneratedAt       time.Time
}

// GenerateOptions parameterise the agreement-generation pass.
type GenerateOptions struct {
	FrameworkSlug string
	Actor         string
	SupplierIDs   []int
	DryRun        bool
}

// Generate renders the signature copy of the framework agreement for every
// awarded supplier who has not yet returned one. E-signature frameworks
// produce a multi-page document merged in signing order; others produce a
// single signature page. Suppliers whose agreement is already returned are
// skipped, so re-runs only touch suppliers still waiting to sign.
func (p *Processor) Generate(ctx context.Context, opts GenerateOptions) (runner.Summary, error) {
	fw, err := p.Gateway.GetFramework(ctx, opts.FrameworkSlug)
	if err != nil {
		return runner.Summary{}, err
	}
	if domain.StatusPrecedes(fw.Status, domain.FrameworkStandstill) {
		return runner.Summary{}, fmt.Errorf("framework %s is %s; agreements are generated at standstill or later", fw.Slug, fw.Status)
	}
	include := intSet(opts.SupplierIDs)
	awarded := true
	seq := p.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{
		OnFramework:      &awarded,
		WithDeclarations: true,
	})

	return runner.Map(ctx, p.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		log := p.Log.With(zap.Int("supplier_id", sf.SupplierID), zap.String("framework", fw.Slug))
		if err := sf.Validate(); err != nil {
			log.Error("malformed supplier framework", zap.Error(err))
			return runner.Failed
		}
		if sf.AgreementReturned {
			return runner.Skipped
		}
		if err := p.generateSupplier(ctx, fw, sf, opts); err != nil {
			log.Error("generate agreement", zap.Error(err))
			return runner.Failed
		}
		if opts.DryRun {
			return runner.Succeeded
		}
		log.Info("generated agreement signature copy")
		return runner.Succeeded
	})
}

func (p *Processor) generateSupplier(ctx context.Context, fw *domain.Framework, sf domain.SupplierFramework, opts GenerateOptions) error {
	lots, err := p.awardedLots(ctx, fw, sf.SupplierID)
	if err != nil {
		return err
	}
	if len(lots) == 0 {
		return fmt.Errorf("awarded supplier has no submitted services")
	}
	data := SignatureData{
		FrameworkSlug:     fw.Slug,
		FrameworkName:     fw.Name,
		SupplierID:        sf.SupplierID,
		SupplierName:      sf.SupplierName,
		RegisteredName:    answerString(sf.Declaration, "nameOfOrganisation", sf.SupplierName),
		RegisteredAddress: answerString(sf.Declaration, "registeredAddress", ""),
		CompanyNumber:     answerString(sf.Declaration, "companiesHouseNumber", ""),
		ContactName:       answerString(sf.Declaration, "primaryContact", ""),
		ContactEmail:      answerString(sf.Declaration, "primaryContactEmail", ""),
		Lots:              lots,
		ESignature:        fw.ESignatureSupported,
		GeneratedAt:       p.now().UTC(),
	}
	if opts.DryRun {
		p.Log.Info("would generate agreement",
			zap.Int("supplier_id", sf.SupplierID),
			zap.Strings("lots", lots))
		return nil
	}
	pages, err := p.Renderer.RenderSignature(ctx, data)
	if err != nil {
		return fmt.Errorf("render agreement pages: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("renderer produced no pages")
	}
	doc := pages[0]
	if len(pages) > 1 {
		doc, err = p.Merger.Merge(ctx, pages...)
		if err != nil {
			return fmt.Errorf("merge agreement pages: %w", err)
		}
	}
	key := store.Key{
		FrameworkSlug: fw.Slug,
		Category:      store.CategoryAgreements,
		SupplierID:    sf.SupplierID,
		Name:          "signature-page",
		Ext:           "pdf",
	}.String()
	download := fmt.Sprintf("%s-%d-signature-page.pdf", fw.Slug, sf.SupplierID)
	return p.Store.Save(ctx, key, doc, store.ACLBucketOwnerFull, download)
}

// awardedLots returns the framework lot names, in framework order, for
// which the supplier has at least one submitted draft service.
func (p *Processor) awardedLots(ctx context.Context, fw *domain.Framework, supplierID int) ([]string, error) {
	submitted := map[string]bool{}
	for draft, err := range p.Gateway.FindDraftServices(ctx, supplierID, fw.Slug) {
		if err != nil {
			return nil, fmt.Errorf("drafts of supplier %d: %w", supplierID, err)
		}
		if draft.Status == domain.DraftSubmitted {
			submitted[draft.LotSlug] = true
		}
	}
	var lots []string
	for _, lot := range fw.Lots {
		if submitted[lot.Slug] {
			lots = append(lots, lot.Name)
		}
	}
	return lots, nil
}

func answerString(d domain.Declaration, questionID, fallback string) string {
	if v, ok := d.Answer(questionID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
