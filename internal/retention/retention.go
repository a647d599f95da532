// Package retention strips personal and commercially sensitive data on
// schedule. Sweep boundaries come from framework expiry and user
// inactivity, never from when a record happened to be created.
package retention

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
)

// RetainFor is the statutory retention window.
const RetainFor = 3 * 365 * 24 * time.Hour

// Gateway is the slice of the Data API the sweeper uses.
type Gateway interface {
	FindFrameworks(ctx context.Context) iter.Seq2[domain.Framework, error]
	FindSuppliersOnFramework(ctx context.Context, slug string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error]
	RemoveDeclaration(ctx context.Context, supplierID int, slug, actor string) error
	FindUsers(ctx context.Context, f api.UserFilters) iter.Seq2[domain.User, error]
	RemoveUserPersonalData(ctx context.Context, userID int, actor string) error
	FindSuppliers(ctx context.Context) iter.Seq2[domain.Supplier, error]
	RemoveContactInformationPersonalData(ctx context.Context, supplierID, contactID int, actor string) error
}

// ListRemover is the bulk-mailer surface the user sweep uses. A user's
// address must leave every mailing list before the API-side scrub, or an
// unreachable person would keep receiving mail.
type ListRemover interface {
	ListsForEmail(ctx context.Context, email string) ([]string, error)
	PermanentlyRemove(ctx context.Context, listID, email string) error
}

// Sweeper runs the retention passes.
type Sweeper struct {
	Gateway Gateway
	Lists   ListRemover
	Log     *zap.Logger
	Now     func() time.Time
	Workers int
	Actor   string
	DryRun  bool
}

// New creates a sweeper with defaults.
func New(gw Gateway, lists ListRemover, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{Gateway: gw, Lists: lists, Log: log, Now: time.Now}
}

func (s *Sweeper) cutoff() time.Time {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	return now.Add(-RetainFor)
}

// SweepUsers scrubs personal data from supplier users who have not logged
// in inside the retention window. The mailing-list removal must succeed
// first; a user whose list removal fails is left untouched and counted as
// a failure.
func (s *Sweeper) SweepUsers(ctx context.Context) (runner.Summary, error) {
	cutoff := s.cutoff()
	removed := false
	seq := s.Gateway.FindUsers(ctx, api.UserFilters{
		Role:                "supplier",
		PersonalDataRemoved: &removed,
	})
	return runner.Map(ctx, s.Workers, seq, func(ctx context.Context, u domain.User) runner.Outcome {
		stale, err := lastSeenBefore(u, cutoff)
		if err != nil {
			s.Log.Error("parse last login", zap.Int("user_id", u.ID), zap.Error(err))
			return runner.Failed
		}
		if !stale {
			return runner.Skipped
		}
		if s.DryRun {
			s.Log.Info("would remove user personal data", zap.Int("user_id", u.ID))
			return runner.Succeeded
		}
		if err := s.removeFromLists(ctx, u.EmailAddress); err != nil {
			s.Log.Error("mailing list removal", zap.Int("user_id", u.ID), zap.Error(err))
			return runner.Failed
		}
		if err := s.Gateway.RemoveUserPersonalData(ctx, u.ID, s.Actor); err != nil {
			s.Log.Error("remove user personal data", zap.Int("user_id", u.ID), zap.Error(err))
			return runner.Failed
		}
		s.Log.Info("removed user personal data", zap.Int("user_id", u.ID))
		return runner.Succeeded
	})
}

// lastSeenBefore reports whether the user's last login predates the cutoff.
// A user who never logged in counts as stale.
func lastSeenBefore(u domain.User, cutoff time.Time) (bool, error) {
	if u.LoggedInAt == "" {
		return true, nil
	}
	at, err := time.Parse(time.RFC3339, u.LoggedInAt)
	if err != nil {
		return false, fmt.Errorf("loggedInAt %q: %w", u.LoggedInAt, err)
	}
	return at.Before(cutoff), nil
}

func (s *Sweeper) removeFromLists(ctx context.Context, email string) error {
	lists, err := s.Lists.ListsForEmail(ctx, email)
	if err != nil {
		return err
	}
	for _, listID := range lists {
		if err := s.Lists.PermanentlyRemove(ctx, listID, email); err != nil {
			return fmt.Errorf("list %s: %w", listID, err)
		}
	}
	return nil
}

// SweepFailedDeclarations removes the declaration of every failed applicant
// on the named framework. Re-runs are no-ops for already-removed rows.
func (s *Sweeper) SweepFailedDeclarations(ctx context.Context, frameworkSlug string) (runner.Summary, error) {
	failed := false
	seq := s.Gateway.FindSuppliersOnFramework(ctx, frameworkSlug, api.SupplierFrameworkFilters{
		OnFramework:      &failed,
		WithDeclarations: true,
	})
	return runner.Map(ctx, s.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		return s.removeDeclaration(ctx, sf, frameworkSlug)
	})
}

// SweepExpiredDeclarations removes every declaration on every framework
// that expired before the retention window opened. The framework's own
// expiry instant is the boundary, not the declaration's age.
func (s *Sweeper) SweepExpiredDeclarations(ctx context.Context) (runner.Summary, error) {
	cutoff := s.cutoff()
	var total runner.Summary
	for fw, err := range s.Gateway.FindFrameworks(ctx) {
		if err != nil {
			return total, err
		}
		if fw.Status != domain.FrameworkExpired {
			continue
		}
		if fw.FrameworkExpiresAt == nil || fw.FrameworkExpiresAt.After(cutoff) {
			continue
		}
		seq := s.Gateway.FindSuppliersOnFramework(ctx, fw.Slug, api.SupplierFrameworkFilters{WithDeclarations: true})
		summary, err := runner.Map(ctx, s.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
			return s.removeDeclaration(ctx, sf, fw.Slug)
		})
		total.Merge(summary)
		if err != nil {
			return total, fmt.Errorf("framework %s: %w", fw.Slug, err)
		}
	}
	return total, nil
}

func (s *Sweeper) removeDeclaration(ctx context.Context, sf domain.SupplierFramework, frameworkSlug string) runner.Outcome {
	if sf.Declaration.Empty() {
		return runner.Skipped
	}
	if s.DryRun {
		s.Log.Info("would remove declaration",
			zap.Int("supplier_id", sf.SupplierID), zap.String("framework", frameworkSlug))
		return runner.Succeeded
	}
	if err := s.Gateway.RemoveDeclaration(ctx, sf.SupplierID, frameworkSlug, s.Actor); err != nil {
		s.Log.Error("remove declaration",
			zap.Int("supplier_id", sf.SupplierID), zap.String("framework", frameworkSlug), zap.Error(err))
		return runner.Failed
	}
	s.Log.Info("removed declaration",
		zap.Int("supplier_id", sf.SupplierID), zap.String("framework", frameworkSlug))
	return runner.Succeeded
}

// ScrubContacts removes personal data from the contact records of every
// supplier whose users have all been scrubbed already. A supplier with any
// active personal data left is skipped.
func (s *Sweeper) ScrubContacts(ctx context.Context) (runner.Summary, error) {
	seq := s.Gateway.FindSuppliers(ctx)
	return runner.Map(ctx, s.Workers, seq, func(ctx context.Context, sup domain.Supplier) runner.Outcome {
		eligible, err := s.allUsersScrubbed(ctx, sup.ID)
		if err != nil {
			s.Log.Error("check supplier users", zap.Int("supplier_id", sup.ID), zap.Error(err))
			return runner.Failed
		}
		if !eligible {
			return runner.Skipped
		}
		scrubbed := 0
		for _, contact := range sup.ContactInformation {
			if contact.PersonalDataRemoved {
				continue
			}
			if s.DryRun {
				s.Log.Info("would scrub contact record",
					zap.Int("supplier_id", sup.ID), zap.Int("contact_id", contact.ID))
				scrubbed++
				continue
			}
			if err := s.Gateway.RemoveContactInformationPersonalData(ctx, sup.ID, contact.ID, s.Actor); err != nil {
				s.Log.Error("scrub contact record",
					zap.Int("supplier_id", sup.ID), zap.Int("contact_id", contact.ID), zap.Error(err))
				return runner.Failed
			}
			scrubbed++
		}
		if scrubbed == 0 {
			return runner.Skipped
		}
		return runner.Succeeded
	})
}

// allUsersScrubbed reports whether every user of the supplier has had
// personal data removed. A supplier with no users at all qualifies.
func (s *Sweeper) allUsersScrubbed(ctx context.Context, supplierID int) (bool, error) {
	for u, err := range s.Gateway.FindUsers(ctx, api.UserFilters{SupplierID: supplierID}) {
		if err != nil {
			return false, err
		}
		if !u.PersonalDataRemoved {
			return false, nil
		}
	}
	return true, nil
}
