// Package agreements processes framework agreements: approving e-signature
// returns, producing countersigned documents, and suspending the services
// of suppliers who never signed.
package agreements

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
	"dmlifecycle/internal/store"
)

// Gateway is the slice of the Data API the processor uses.
type Gateway interface {
	GetFramework(ctx context.Context, slug string) (*domain.Framework, error)
	FindSuppliersOnFramework(ctx context.Context, slug string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error]
	FindDraftServices(ctx context.Context, supplierID int, slug string) iter.Seq2[domain.DraftService, error]
	GetAgreement(ctx context.Context, id int) (*domain.FrameworkAgreement, error)
	UpdateAgreement(ctx context.Context, id int, patch map[string]any, actor string) error
	ApproveAgreement(ctx context.Context, id int, actor string) error
	FindServices(ctx context.Context, f api.ServiceFilters) iter.Seq2[domain.Service, error]
	UpdateServiceStatus(ctx context.Context, id, newStatus, actor string) error
	FindAuditEvents(ctx context.Context, f api.AuditFilters) iter.Seq2[domain.AuditEvent, error]
	FindUsers(ctx context.Context, f api.UserFilters) iter.Seq2[domain.User, error]
}

// DocumentStore is the slice of the object store the processor uses.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, acl, downloadFilename string) error
}

// CountersignData is the context rendered onto a countersignature page.
type CountersignData struct {
	FrameworkSlug    string
	FrameworkName    string
	SupplierID       int
	SupplierName     string
	SignerName       string
	SignerRole       string
	CountersignedAt  time.Time
	AgreementVersion string
}

// Renderer turns agreement page data into PDFs. The default deployment
// shells out to an HTML-to-PDF tool; tests use fakes.
type Renderer interface {
	Render(ctx context.Context, data CountersignData) ([]byte, error)
	// RenderSignature renders the supplier-specific agreement pages in
	// signing order, one PDF per page.
	RenderSignature(ctx context.Context, data SignatureData) ([][]byte, error)
}

// Merger concatenates agreement pages, and appends the countersignature
// page to the supplier-signed PDF.
type Merger interface {
	Merge(ctx context.Context, docs ...[]byte) ([]byte, error)
}

// Notifier tells a supplier's active users that their services were
// suspended for a missing signature.
type Notifier interface {
	NotifySuspension(ctx context.Context, supplierID int, frameworkSlug string) error
}

// Processor drives agreement countersigning and the suspension engine for
// one framework.
type Processor struct {
	Gateway  Gateway
	Store    DocumentStore
	Renderer Renderer
	Merger   Merger
	Notifier Notifier
	Log      *zap.Logger
	Now      func() time.Time
	Workers  int
}

// New creates a processor with defaults.
func New(gw Gateway, docs DocumentStore, r Renderer, m Merger, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{Gateway: gw, Store: docs, Renderer: r, Merger: m, Log: log, Now: time.Now}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// CountersignOptions parameterise the countersign pass.
type CountersignOptions struct {
	FrameworkSlug string
	Actor         string
	SupplierIDs   []int
	DryRun        bool
}

// Countersign produces the countersigned agreement document for every
// approved agreement on the framework. Signed agreements on e-signature
// frameworks are approved in passing; on other frameworks a signed
// agreement waits for a human reviewer. It refuses suppliers who are not
// on the framework, agreements on hold, and agreements that already carry
// a countersigned path.
func (p *Processor) Countersign(ctx context.Context, opts CountersignOptions) (runner.Summary, error) {
	fw, err := p.Gateway.GetFramework(ctx, opts.FrameworkSlug)
	if err != nil {
		return runner.Summary{}, err
	}
	include := intSet(opts.SupplierIDs)
	returned := true
	seq := p.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{AgreementReturned: &returned})

	return runner.Map(ctx, p.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		log := p.Log.With(zap.Int("supplier_id", sf.SupplierID), zap.String("framework", fw.Slug))
		if err := sf.Validate(); err != nil {
			log.Error("malformed supplier framework", zap.Error(err))
			return runner.Failed
		}
		done, err := p.countersignSupplier(ctx, fw, sf, opts)
		if err != nil {
			log.Error("countersign", zap.Error(err))
			return runner.Failed
		}
		if !done {
			return runner.Skipped
		}
		log.Info("countersigned agreement")
		return runner.Succeeded
	})
}

// countersignSupplier returns (false, nil) for refusals, which count as
// skips, not failures.
func (p *Processor) countersignSupplier(ctx context.Context, fw *domain.Framework, sf domain.SupplierFramework, opts CountersignOptions) (bool, error) {
	if !sf.Awarded() {
		return false, nil
	}
	if sf.AgreementID == nil {
		return false, fmt.Errorf("agreement returned but no agreement id recorded")
	}
	agreement, err := p.Gateway.GetAgreement(ctx, *sf.AgreementID)
	if err != nil {
		return false, err
	}
	if agreement == nil {
		return false, fmt.Errorf("agreement %d not found", *sf.AgreementID)
	}
	switch agreement.Status {
	case domain.AgreementOnHold, domain.AgreementCountersigned:
		return false, nil
	case domain.AgreementSigned:
		if !fw.ESignatureSupported {
			return false, nil
		}
		if !opts.DryRun {
			if err := p.Gateway.ApproveAgreement(ctx, agreement.ID, opts.Actor); err != nil {
				return false, fmt.Errorf("approve: %w", err)
			}
		}
	case domain.AgreementApproved:
	default:
		return false, fmt.Errorf("agreement %d in unexpected status %q", agreement.ID, agreement.Status)
	}
	if agreement.CountersignedAgreementPath != "" {
		return false, nil
	}
	if opts.DryRun {
		p.Log.Info("would countersign agreement",
			zap.Int("supplier_id", sf.SupplierID),
			zap.Int("agreement_id", agreement.ID))
		return true, nil
	}

	now := p.now().UTC()
	page, err := p.Renderer.Render(ctx, CountersignData{
		FrameworkSlug:    fw.Slug,
		FrameworkName:    fw.Name,
		SupplierID:       sf.SupplierID,
		SupplierName:     sf.SupplierName,
		SignerName:       sf.AgreementDetails.SignerName,
		SignerRole:       sf.AgreementDetails.SignerRole,
		CountersignedAt:  now,
		AgreementVersion: sf.AgreementDetails.FrameworkAgreement,
	})
	if err != nil {
		return false, fmt.Errorf("render countersignature page: %w", err)
	}
	signed, err := p.Store.Get(ctx, agreement.SignedAgreementPath)
	if err != nil {
		return false, fmt.Errorf("fetch signed agreement: %w", err)
	}
	merged, err := p.Merger.Merge(ctx, signed, page)
	if err != nil {
		return false, fmt.Errorf("merge countersigned agreement: %w", err)
	}

	key := store.Key{
		FrameworkSlug: fw.Slug,
		Category:      store.CategoryAgreements,
		SupplierID:    sf.SupplierID,
		Name:          "agreement-countersignature",
		Ext:           "pdf",
	}.String()
	download := fmt.Sprintf("%s-%d-agreement-countersignature.pdf", fw.Slug, sf.SupplierID)
	if err := p.Store.Save(ctx, key, merged, store.ACLBucketOwnerFull, download); err != nil {
		return false, err
	}
	patch := map[string]any{
		"countersignedAgreementPath":       key,
		"countersignedAgreementReturnedAt": now.Format(time.RFC3339),
	}
	if err := p.Gateway.UpdateAgreement(ctx, agreement.ID, patch, opts.Actor); err != nil {
		return false, fmt.Errorf("record countersignature: %w", err)
	}
	return true, nil
}

func intSet(ids []int) map[int]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
