// Package lifecycle drives a framework and its suppliers through the
// application lifecycle: status transitions, the adjudication sweep at the
// standstill boundary, and the publish sweep at go-live.
package lifecycle

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
)

// Gateway is the slice of the Data API the coordinator uses.
type Gateway interface {
	GetFramework(ctx context.Context, slug string) (*domain.Framework, error)
	UpdateFramework(ctx context.Context, slug string, patch domain.FrameworkPatch, actor string) error
	FindSuppliersOnFramework(ctx context.Context, slug string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error]
	GetSupplierFramework(ctx context.Context, supplierID int, slug string) (*domain.SupplierFramework, error)
	FindDraftServices(ctx context.Context, supplierID int, slug string) iter.Seq2[domain.DraftService, error]
	SetFrameworkResult(ctx context.Context, supplierID int, slug string, onFramework bool, actor string) error
	PublishDraftService(ctx context.Context, draftID int, actor string) (string, error)
	UpdateService(ctx context.Context, id string, attributes map[string]any, actor string) error
	CreateAuditEvent(ctx context.Context, eventType, user string, data map[string]any, objectType, objectID string) error
}

// Indexer writes published services into the framework's search index.
type Indexer interface {
	Index(ctx context.Context, index, docID string, doc map[string]any, docType string) error
}

// DocumentStore is the slice of the object store the publish sweep uses.
type DocumentStore interface {
	Copy(ctx context.Context, src, dst string, metadata map[string]string) error
}

// Engine coordinates lifecycle operations for one framework.
type Engine struct {
	Gateway Gateway
	Search  Indexer
	Store   DocumentStore
	Log     *zap.Logger
	Now     func() time.Time
	Workers int
}

// New creates an engine with defaults.
func New(gw Gateway, search Indexer, store DocumentStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{Gateway: gw, Search: search, Store: store, Log: log, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ensureFrameworkTransition guards the monotonic lifecycle. Only adjacent
// forward steps are legal; most are time-driven elsewhere, but the guard
// holds for any status change issued through this tool.
func ensureFrameworkTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.FrameworkComing:
		if newStatus == domain.FrameworkOpen {
			return nil
		}
	case domain.FrameworkOpen:
		if newStatus == domain.FrameworkPending {
			return nil
		}
	case domain.FrameworkPending:
		if newStatus == domain.FrameworkStandstill {
			return nil
		}
	case domain.FrameworkStandstill:
		if newStatus == domain.FrameworkLive {
			return nil
		}
	case domain.FrameworkLive:
		if newStatus == domain.FrameworkExpired {
			return nil
		}
	}
	return fmt.Errorf("invalid framework status transition %s -> %s", oldStatus, newStatus)
}

// SetStatus moves a framework one step along its lifecycle.
func (e *Engine) SetStatus(ctx context.Context, slug, newStatus, actor string, dryRun bool) error {
	fw, err := e.Gateway.GetFramework(ctx, slug)
	if err != nil {
		return err
	}
	if err := ensureFrameworkTransition(fw.Status, newStatus); err != nil {
		return err
	}
	if dryRun {
		e.Log.Info("would set framework status",
			zap.String("framework", slug),
			zap.String("from", fw.Status),
			zap.String("to", newStatus))
		return nil
	}
	return e.Gateway.UpdateFramework(ctx, slug, domain.FrameworkPatch{Status: &newStatus}, actor)
}

// Stats counts suppliers on a framework by application state.
type Stats struct {
	FrameworkSlug string `json:"frameworkSlug"`
	Interested    int    `json:"interested"`
	Started       int    `json:"startedDeclaration"`
	Complete      int    `json:"completeDeclaration"`
	Awarded       int    `json:"awarded"`
	Rejected      int    `json:"rejected"`
	Undecided     int    `json:"undecided"`
}

// SnapshotStats tallies applications and records the snapshot as an audit
// event so trend reporting can read it back later.
func (e *Engine) SnapshotStats(ctx context.Context, slug, actor string, dryRun bool) (Stats, error) {
	stats := Stats{FrameworkSlug: slug}
	for sf, err := range e.Gateway.FindSuppliersOnFramework(ctx, slug, api.SupplierFrameworkFilters{WithDeclarations: true}) {
		if err != nil {
			return stats, err
		}
		stats.Interested++
		switch sf.Declaration.Status {
		case domain.DeclarationStarted:
			stats.Started++
		case domain.DeclarationComplete:
			stats.Complete++
		}
		switch {
		case sf.Awarded():
			stats.Awarded++
		case sf.Undecided():
			stats.Undecided++
		default:
			stats.Rejected++
		}
	}
	if dryRun {
		e.Log.Info("would snapshot framework stats", zap.String("framework", slug), zap.Any("stats", stats))
		return stats, nil
	}
	err := e.Gateway.CreateAuditEvent(ctx, domain.AuditSnapshotFrameworkStats, actor, map[string]any{
		"interested": stats.Interested,
		"started":    stats.Started,
		"complete":   stats.Complete,
		"awarded":    stats.Awarded,
		"rejected":   stats.Rejected,
		"undecided":  stats.Undecided,
	}, "frameworks", slug)
	return stats, err
}
