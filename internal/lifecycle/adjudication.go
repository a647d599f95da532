package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dmlifecycle/internal/adjudicate"
	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
)

// AdjudicateOptions parameterise the adjudication sweep.
type AdjudicateOptions struct {
	FrameworkSlug       string
	Rules               *adjudicate.RuleSchema
	Actor               string
	ReassessPassed      bool
	ReassessFailed      bool
	SupplierIDs         []int
	ExcludedSupplierIDs []int
	DryRun              bool
}

// SupplierVerdict is one supplier's adjudication, surfaced for exports.
type SupplierVerdict struct {
	SupplierID   int
	SupplierName string
	Result       adjudicate.Result
	Applied      bool
}

// Adjudicate runs the sweep that decides onFramework for every interested
// supplier at the pending->standstill boundary. Individual supplier
// failures are logged and counted; the sweep continues, and idempotent
// skip rules make re-runs touch only previously-failed suppliers.
func (e *Engine) Adjudicate(ctx context.Context, opts AdjudicateOptions) (runner.Summary, []SupplierVerdict, error) {
	fw, err := e.Gateway.GetFramework(ctx, opts.FrameworkSlug)
	if err != nil {
		return runner.Summary{}, nil, err
	}
	// Results may only be recorded once applications have closed.
	if domain.StatusPrecedes(fw.Status, domain.FrameworkPending) {
		return runner.Summary{}, nil, fmt.Errorf("framework %s is %s; adjudication requires it to be pending or later", fw.Slug, fw.Status)
	}
	if opts.Rules == nil {
		return runner.Summary{}, nil, fmt.Errorf("no adjudication ruleset supplied")
	}
	if opts.Rules.Framework != fw.Slug {
		return runner.Summary{}, nil, fmt.Errorf("ruleset is for %s, not %s", opts.Rules.Framework, fw.Slug)
	}

	include := intSet(opts.SupplierIDs)
	exclude := intSet(opts.ExcludedSupplierIDs)

	seq := e.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{WithDeclarations: true})
	verdicts := make(chan SupplierVerdict, 64)
	collected := make([]SupplierVerdict, 0, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range verdicts {
			collected = append(collected, v)
		}
	}()

	summary, runErr := runner.Map(ctx, e.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		if exclude[sf.SupplierID] {
			return runner.Skipped
		}
		if sf.Declaration.Empty() {
			return runner.Skipped
		}
		if err := sf.Validate(); err != nil {
			e.Log.Error("malformed supplier framework", zap.Int("supplier_id", sf.SupplierID), zap.Error(err))
			return runner.Failed
		}
		outcome, verdict := e.adjudicateSupplier(ctx, sf, opts)
		verdicts <- verdict
		return outcome
	})
	close(verdicts)
	<-done
	return summary, collected, runErr
}

func (e *Engine) adjudicateSupplier(ctx context.Context, sf domain.SupplierFramework, opts AdjudicateOptions) (runner.Outcome, SupplierVerdict) {
	verdict := SupplierVerdict{SupplierID: sf.SupplierID, SupplierName: sf.SupplierName}

	submitted, err := e.countSubmittedDrafts(ctx, sf.SupplierID, opts.FrameworkSlug)
	if err != nil {
		e.Log.Error("count submitted drafts",
			zap.Int("supplier_id", sf.SupplierID), zap.Error(err))
		return runner.Failed, verdict
	}
	verdict.Result = adjudicate.Classify(sf.Declaration, opts.Rules, submitted)

	log := e.Log.With(
		zap.Int("supplier_id", sf.SupplierID),
		zap.String("framework", opts.FrameworkSlug),
		zap.String("outcome", string(verdict.Result.Outcome)))

	var onFramework bool
	switch verdict.Result.Outcome {
	case adjudicate.Pass:
		if !opts.ReassessPassed && sf.OnFramework != nil && *sf.OnFramework {
			log.Debug("already passed, skipping")
			return runner.Skipped, verdict
		}
		onFramework = true
	case adjudicate.Fail:
		if !opts.ReassessFailed && sf.OnFramework != nil && !*sf.OnFramework {
			log.Debug("already failed, skipping")
			return runner.Skipped, verdict
		}
		onFramework = false
	case adjudicate.Discretionary:
		// Left undecided; an operator resolves these by hand.
		log.Info("discretionary, leaving undecided")
		return runner.Skipped, verdict
	case adjudicate.Incomplete:
		log.Info("declaration incomplete")
		return runner.Skipped, verdict
	}

	if opts.DryRun {
		log.Info("would set framework result", zap.Bool("on_framework", onFramework))
		return runner.Succeeded, verdict
	}
	if err := e.Gateway.SetFrameworkResult(ctx, sf.SupplierID, opts.FrameworkSlug, onFramework, opts.Actor); err != nil {
		log.Error("set framework result", zap.Error(err))
		return runner.Failed, verdict
	}
	verdict.Applied = true
	log.Info("set framework result", zap.Bool("on_framework", onFramework))
	return runner.Succeeded, verdict
}

func (e *Engine) countSubmittedDrafts(ctx context.Context, supplierID int, slug string) (int, error) {
	n := 0
	for draft, err := range e.Gateway.FindDraftServices(ctx, supplierID, slug) {
		if err != nil {
			return 0, err
		}
		if draft.Status == domain.DraftSubmitted {
			n++
		}
	}
	return n, nil
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
