package lifecycle

import (
	"context"
	"iter"
	"sort"
	"strings"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
)

// ServiceSource is the listing slice of the Data API the term scan uses.
type ServiceSource interface {
	FindServices(ctx context.Context, f api.ServiceFilters) iter.Seq2[domain.Service, error]
}

// TermMatch is one prohibited-term hit in one free-text field. The scan is
// advisory: it reports, it never mutates.
type TermMatch struct {
	Service    string `json:"serviceId"`
	SupplierID int    `json:"supplierId"`
	Field      string `json:"field"`
	Term       string `json:"term"`
}

// ScanTerms checks every free-text attribute of every service on the
// framework against a blocklist, case-insensitively. Matches come back
// sorted by service id then field for stable reports.
func ScanTerms(ctx context.Context, src ServiceSource, frameworkSlug string, blocklist []string) ([]TermMatch, error) {
	terms := make([]string, 0, len(blocklist))
	for _, t := range blocklist {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	var matches []TermMatch
	for svc, err := range src.FindServices(ctx, api.ServiceFilters{FrameworkSlug: frameworkSlug}) {
		if err != nil {
			return nil, err
		}
		for field, raw := range svc.Attributes {
			for _, text := range freeText(raw) {
				lower := strings.ToLower(text)
				for _, term := range terms {
					if strings.Contains(lower, term) {
						matches = append(matches, TermMatch{
							Service:    svc.ID,
							SupplierID: svc.SupplierID,
							Field:      field,
							Term:       term,
						})
					}
				}
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Service != matches[j].Service {
			return matches[i].Service < matches[j].Service
		}
		if matches[i].Field != matches[j].Field {
			return matches[i].Field < matches[j].Field
		}
		return matches[i].Term < matches[j].Term
	})
	return matches, nil
}

// freeText extracts the string values reachable in one attribute: plain
// strings and lists of strings; everything else carries no prose.
func freeText(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
