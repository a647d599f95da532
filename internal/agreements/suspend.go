package agreements

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
)

// SuspendOptions parameterise the suspension and unsuspension passes.
type SuspendOptions struct {
	FrameworkSlug string
	SupplierIDs   []int
	DryRun        bool
}

// Suspend disables the published services of every awarded supplier who has
// not returned a signed agreement and is not on hold. The status change is
// attributed to the suspension actor so the inverse pass can find its own
// work in the audit trail, and every active user of the supplier is told.
func (p *Processor) Suspend(ctx context.Context, opts SuspendOptions) (runner.Summary, error) {
	fw, err := p.Gateway.GetFramework(ctx, opts.FrameworkSlug)
	if err != nil {
		return runner.Summary{}, err
	}
	if fw.Status != domain.FrameworkLive {
		return runner.Summary{}, fmt.Errorf("framework %s is %s; suspension runs against a live framework", fw.Slug, fw.Status)
	}
	include := intSet(opts.SupplierIDs)
	onFramework := true
	returned := false
	seq := p.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{
		OnFramework:       &onFramework,
		AgreementReturned: &returned,
	})

	return runner.Map(ctx, p.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		if sf.AgreementStatus == domain.AgreementOnHold {
			return runner.Skipped
		}
		log := p.Log.With(zap.Int("supplier_id", sf.SupplierID), zap.String("framework", fw.Slug))
		n, err := p.suspendSupplier(ctx, sf.SupplierID, opts)
		if err != nil {
			log.Error("suspend services", zap.Error(err))
			return runner.Failed
		}
		if n == 0 {
			return runner.Skipped
		}
		log.Info("suspended services", zap.Int("services", n))
		return runner.Succeeded
	})
}

func (p *Processor) suspendSupplier(ctx context.Context, supplierID int, opts SuspendOptions) (int, error) {
	n := 0
	for svc, err := range p.Gateway.FindServices(ctx, api.ServiceFilters{
		FrameworkSlug: opts.FrameworkSlug,
		SupplierID:    supplierID,
		Status:        domain.ServicePublished,
	}) {
		if err != nil {
			return n, err
		}
		if opts.DryRun {
			p.Log.Info("would disable service",
				zap.Int("supplier_id", supplierID), zap.String("service_id", svc.ID))
			n++
			continue
		}
		if err := p.Gateway.UpdateServiceStatus(ctx, svc.ID, domain.ServiceDisabled, domain.SuspensionActor); err != nil {
			return n, fmt.Errorf("disable service %s: %w", svc.ID, err)
		}
		n++
	}
	if n > 0 && !opts.DryRun && p.Notifier != nil {
		if err := p.Notifier.NotifySuspension(ctx, supplierID, opts.FrameworkSlug); err != nil {
			return n, fmt.Errorf("notify supplier users: %w", err)
		}
	}
	return n, nil
}

// Unsuspend re-publishes services the suspension pass disabled, for
// suppliers who have since returned their agreement. Only services whose
// most recent status change was authored by the suspension actor are
// touched; operator-issued suspensions stay as they are.
func (p *Processor) Unsuspend(ctx context.Context, opts SuspendOptions) (runner.Summary, error) {
	include := intSet(opts.SupplierIDs)
	onFramework := true
	returned := true
	seq := p.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{
		OnFramework:       &onFramework,
		AgreementReturned: &returned,
	})

	return runner.Map(ctx, p.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		log := p.Log.With(zap.Int("supplier_id", sf.SupplierID), zap.String("framework", opts.FrameworkSlug))
		n, err := p.unsuspendSupplier(ctx, sf.SupplierID, opts)
		if err != nil {
			log.Error("unsuspend services", zap.Error(err))
			return runner.Failed
		}
		if n == 0 {
			return runner.Skipped
		}
		log.Info("re-published services", zap.Int("services", n))
		return runner.Succeeded
	})
}

func (p *Processor) unsuspendSupplier(ctx context.Context, supplierID int, opts SuspendOptions) (int, error) {
	n := 0
	for svc, err := range p.Gateway.FindServices(ctx, api.ServiceFilters{
		FrameworkSlug: opts.FrameworkSlug,
		SupplierID:    supplierID,
		Status:        domain.ServiceDisabled,
	}) {
		if err != nil {
			return n, err
		}
		auto, err := p.suspendedByEngine(ctx, svc.ID)
		if err != nil {
			return n, err
		}
		if !auto {
			continue
		}
		if opts.DryRun {
			p.Log.Info("would re-publish service",
				zap.Int("supplier_id", supplierID), zap.String("service_id", svc.ID))
			n++
			continue
		}
		if err := p.Gateway.UpdateServiceStatus(ctx, svc.ID, domain.ServicePublished, domain.SuspensionActor); err != nil {
			return n, fmt.Errorf("re-publish service %s: %w", svc.ID, err)
		}
		n++
	}
	return n, nil
}

// suspendedByEngine reports whether the most recent status change on the
// service was authored by the suspension pass. The audit trail is the only
// authoritative record of that.
func (p *Processor) suspendedByEngine(ctx context.Context, serviceID string) (bool, error) {
	for ev, err := range p.Gateway.FindAuditEvents(ctx, api.AuditFilters{
		Type:       domain.AuditUpdateServiceStatus,
		ObjectType: "services",
		ObjectID:   serviceID,
	}) {
		if err != nil {
			return false, fmt.Errorf("audit history for service %s: %w", serviceID, err)
		}
		return ev.User == domain.SuspensionActor, nil
	}
	return false, nil
}
