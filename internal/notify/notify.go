// Package notify delivers templated emails with at-most-once semantics.
// Every message carries a deterministic reference derived from the
// recipient, the template, and the context, so a crashed run can be
// re-invoked with the same run id and only the unsent remainder goes out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/mailer"
	"dmlifecycle/internal/runner"
)

// Gateway is the slice of the Data API the dispatcher uses.
type Gateway interface {
	FindSuppliersOnFramework(ctx context.Context, slug string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error]
	FindUsers(ctx context.Context, f api.UserFilters) iter.Seq2[domain.User, error]
}

// Mailer is the transactional provider surface the dispatcher uses.
type Mailer interface {
	Send(ctx context.Context, req mailer.SendRequest) error
	HasBeenSent(ctx context.Context, reference string) (bool, error)
}

// Dispatcher sends framework lifecycle emails.
type Dispatcher struct {
	Gateway Gateway
	Mailer  Mailer
	Log     *zap.Logger
	Workers int

	// RunID de-duplicates re-runs. When empty a fresh id is generated and
	// the invocation sends afresh.
	RunID string
}

// New creates a dispatcher with defaults.
func New(gw Gateway, m Mailer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{Gateway: gw, Mailer: m, Log: log}
}

func (d *Dispatcher) runID() string {
	if d.RunID != "" {
		return d.RunID
	}
	return uuid.NewString()
}

// send delivers one email unless a message with the same reference has
// already been accepted. Returns the reference, which identifies the
// recipient in logs without exposing the address, and whether a send
// actually happened.
func (d *Dispatcher) send(ctx context.Context, recipient, templateID string, personalisation map[string]any, dryRun bool) (string, bool, error) {
	ref := mailer.Reference(recipient, templateID, personalisation)
	sent, err := d.Mailer.HasBeenSent(ctx, ref)
	if err != nil {
		return ref, false, fmt.Errorf("check reference: %w", err)
	}
	if sent {
		return ref, false, nil
	}
	if dryRun {
		d.Log.Info("would send email",
			zap.String("template_id", templateID),
			zap.String("reference", ref))
		return ref, true, nil
	}
	return ref, true, d.Mailer.Send(ctx, mailer.SendRequest{
		Recipient:       recipient,
		TemplateID:      templateID,
		Personalisation: personalisation,
		Reference:       ref,
	})
}

// DispatchOptions parameterise a notification run over a framework's
// supplier users.
type DispatchOptions struct {
	FrameworkSlug string
	TemplateID    string
	// Context is merged into every message's personalisation alongside the
	// run id and the supplier name.
	Context map[string]any
	// Filters selects which SupplierFramework rows get notified.
	Filters api.SupplierFrameworkFilters
	DryRun  bool
}

// Dispatch sends one templated email to every active user of every matching
// supplier. A template shape mismatch aborts the run; any other send
// failure is logged with the reference, counted, and the run continues.
func (d *Dispatcher) Dispatch(ctx context.Context, opts DispatchOptions) (runner.Summary, error) {
	runID := d.runID()
	d.Log.Info("notification run",
		zap.String("framework", opts.FrameworkSlug),
		zap.String("template_id", opts.TemplateID),
		zap.String("run_id", runID))

	seq := d.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, opts.Filters)
	var fatal abort
	summary, err := runner.Map(ctx, d.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if fatal.tripped() {
			return runner.Skipped
		}
		personalisation := map[string]any{
			"framework_slug": opts.FrameworkSlug,
			"supplier_name":  sf.SupplierName,
			"run_id":         runID,
		}
		for k, v := range opts.Context {
			personalisation[k] = v
		}
		outcome, err := d.notifySupplierUsers(ctx, sf.SupplierID, opts.TemplateID, personalisation, opts.DryRun)
		var tmplErr *mailer.TemplateError
		if errors.As(err, &tmplErr) {
			fatal.trip(tmplErr)
			return runner.Failed
		}
		if err != nil {
			d.Log.Error("notify supplier users", zap.Int("supplier_id", sf.SupplierID), zap.Error(err))
			return runner.Failed
		}
		return outcome
	})
	if err == nil {
		err = fatal.err()
	}
	return summary, err
}

// abort makes a template-shape failure halt the run: the first worker to
// hit one trips it, and the remaining items are skipped unsent.
type abort struct {
	mu  sync.Mutex
	fat error
}

func (a *abort) trip(err error) {
	a.mu.Lock()
	if a.fat == nil {
		a.fat = err
	}
	a.mu.Unlock()
}

func (a *abort) tripped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fat != nil
}

func (a *abort) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fat
}

// notifySupplierUsers sends to each active user of one supplier. A
// template mismatch propagates to the caller, which aborts the run; any
// other send failure is logged with the message reference and the
// remaining users are still attempted. Skipped means every user had
// already been sent this message.
func (d *Dispatcher) notifySupplierUsers(ctx context.Context, supplierID int, templateID string, personalisation map[string]any, dryRun bool) (runner.Outcome, error) {
	users, err := d.activeUsers(ctx, supplierID)
	if err != nil {
		return runner.Failed, err
	}
	delivered := false
	failed := 0
	for _, u := range users {
		ref, sent, err := d.send(ctx, u.EmailAddress, templateID, personalisation, dryRun)
		var tmplErr *mailer.TemplateError
		if errors.As(err, &tmplErr) {
			return runner.Failed, err
		}
		if err != nil {
			d.Log.Error("send notification",
				zap.Int("supplier_id", supplierID),
				zap.String("reference", ref),
				zap.Error(err))
			failed++
			continue
		}
		delivered = delivered || sent
	}
	if failed > 0 {
		return runner.Failed, nil
	}
	if !delivered {
		return runner.Skipped, nil
	}
	return runner.Succeeded, nil
}

func (d *Dispatcher) activeUsers(ctx context.Context, supplierID int) ([]domain.User, error) {
	active := true
	removed := false
	var users []domain.User
	for u, err := range d.Gateway.FindUsers(ctx, api.UserFilters{
		SupplierID:          supplierID,
		Active:              &active,
		PersonalDataRemoved: &removed,
	}) {
		if err != nil {
			return nil, fmt.Errorf("users of supplier %d: %w", supplierID, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// NotifySuspension tells a supplier's active users that their services were
// disabled for a missing agreement signature. It satisfies the suspension
// engine's notifier and shares the dispatcher's de-duplication.
func (d *Dispatcher) NotifySuspension(ctx context.Context, supplierID int, frameworkSlug string) error {
	users, err := d.activeUsers(ctx, supplierID)
	if err != nil {
		return err
	}
	failed := 0
	for _, u := range users {
		ref, _, err := d.send(ctx, u.EmailAddress, TemplateServicesSuspended, map[string]any{
			"framework_slug": frameworkSlug,
		}, false)
		if err != nil {
			d.Log.Error("send suspension notice",
				zap.Int("supplier_id", supplierID),
				zap.String("reference", ref),
				zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d suspension notices failed for supplier %d", failed, len(users), supplierID)
	}
	return nil
}

// Digest is a supplier-batched summary: many opportunity links folded into
// one email per active user of the supplier.
type Digest struct {
	SupplierID int
	Links      []string
}

// DigestOptions parameterise a batched digest run.
type DigestOptions struct {
	FrameworkSlug string
	TemplateID    string
	Digests       []Digest
	DryRun        bool
}

// DispatchDigests groups notifications by supplier and sends one email per
// active user carrying the full list of links for that supplier.
func (d *Dispatcher) DispatchDigests(ctx context.Context, opts DigestOptions) (runner.Summary, error) {
	runID := d.runID()
	var fatal abort
	summary, err := runner.Map(ctx, d.Workers, runner.Items(opts.Digests), func(ctx context.Context, dig Digest) runner.Outcome {
		if fatal.tripped() {
			return runner.Skipped
		}
		links := append([]string(nil), dig.Links...)
		sort.Strings(links)
		personalisation := map[string]any{
			"framework_slug": opts.FrameworkSlug,
			"links":          links,
			"run_id":         runID,
		}
		outcome, err := d.notifySupplierUsers(ctx, dig.SupplierID, opts.TemplateID, personalisation, opts.DryRun)
		var tmplErr *mailer.TemplateError
		if errors.As(err, &tmplErr) {
			fatal.trip(tmplErr)
			return runner.Failed
		}
		if err != nil {
			d.Log.Error("digest", zap.Int("supplier_id", dig.SupplierID), zap.Error(err))
			return runner.Failed
		}
		return outcome
	})
	if err == nil {
		err = fatal.err()
	}
	return summary, err
}
