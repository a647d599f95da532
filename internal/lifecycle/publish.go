package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/runner"
	"dmlifecycle/internal/store"
)

// PublishOptions parameterise the go-live publish sweep.
type PublishOptions struct {
	FrameworkSlug string
	IndexName     string
	AssetsBaseURL string
	Actor         string
	SupplierIDs   []int
	DryRun        bool
}

// Publish transitions every submitted draft of every awarded supplier to a
// live service: the draft is published through the API, its documents are
// copied from the draft prefix to the live prefix, document URLs in the
// service record are rewritten, and the service is indexed. Already-
// published drafts are skipped, so re-runs are no-ops for completed work.
func (e *Engine) Publish(ctx context.Context, opts PublishOptions) (runner.Summary, error) {
	fw, err := e.Gateway.GetFramework(ctx, opts.FrameworkSlug)
	if err != nil {
		return runner.Summary{}, err
	}
	if domain.StatusPrecedes(fw.Status, domain.FrameworkStandstill) {
		return runner.Summary{}, fmt.Errorf("framework %s is %s; publishing requires standstill or later", fw.Slug, fw.Status)
	}
	include := intSet(opts.SupplierIDs)
	onFramework := true
	seq := e.Gateway.FindSuppliersOnFramework(ctx, opts.FrameworkSlug, api.SupplierFrameworkFilters{OnFramework: &onFramework})

	return runner.Map(ctx, e.Workers, seq, func(ctx context.Context, sf domain.SupplierFramework) runner.Outcome {
		if len(include) > 0 && !include[sf.SupplierID] {
			return runner.Skipped
		}
		if err := e.publishSupplier(ctx, fw, sf, opts); err != nil {
			e.Log.Error("publish supplier services",
				zap.Int("supplier_id", sf.SupplierID), zap.Error(err))
			return runner.Failed
		}
		return runner.Succeeded
	})
}

func (e *Engine) publishSupplier(ctx context.Context, fw *domain.Framework, sf domain.SupplierFramework, opts PublishOptions) error {
	var drafts []domain.DraftService
	for draft, err := range e.Gateway.FindDraftServices(ctx, sf.SupplierID, opts.FrameworkSlug) {
		if err != nil {
			return err
		}
		drafts = append(drafts, draft)
	}
	for _, draft := range selectPublishable(fw, drafts) {
		if err := e.publishDraft(ctx, sf.SupplierID, draft, opts); err != nil {
			return fmt.Errorf("draft %d: %w", draft.ID, err)
		}
	}
	return nil
}

// selectPublishable filters drafts to submitted ones, deduplicating by
// normalised name on one-service-limit lots: the most-complete draft wins
// and ties break arbitrarily.
func selectPublishable(fw *domain.Framework, drafts []domain.DraftService) []domain.DraftService {
	var out []domain.DraftService
	best := map[string]int{}
	for _, draft := range drafts {
		if draft.Status != domain.DraftSubmitted {
			continue
		}
		lot, ok := fw.Lot(draft.LotSlug)
		if !ok || !lot.OneServiceLimit {
			out = append(out, draft)
			continue
		}
		key := draft.LotSlug + "/" + domain.NormalisedName(draft.ServiceName)
		if idx, seen := best[key]; seen {
			if answeredAttributes(draft) > answeredAttributes(out[idx]) {
				out[idx] = draft
			}
			continue
		}
		best[key] = len(out)
		out = append(out, draft)
	}
	return out
}

func answeredAttributes(d domain.DraftService) int {
	n := 0
	for _, v := range d.Attributes {
		if v != nil {
			n++
		}
	}
	return n
}

func (e *Engine) publishDraft(ctx context.Context, supplierID int, draft domain.DraftService, opts PublishOptions) error {
	log := e.Log.With(
		zap.Int("supplier_id", supplierID),
		zap.Int("draft_id", draft.ID))
	if opts.DryRun {
		log.Info("would publish draft service")
		return nil
	}
	serviceID, err := e.Gateway.PublishDraftService(ctx, draft.ID, opts.Actor)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	rewrites := map[string]any{}
	doc := map[string]any{}
	for k, v := range draft.Attributes {
		doc[k] = v
	}
	for _, key := range domain.DocumentKeys {
		raw, ok := draft.Attributes[key]
		if !ok {
			continue
		}
		srcURL, ok := raw.(string)
		if !ok || srcURL == "" {
			continue
		}
		newURL, err := e.migrateDocument(ctx, srcURL, opts, supplierID, draft.ID, serviceID)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		rewrites[key] = newURL
		doc[key] = newURL
	}
	if len(rewrites) > 0 {
		if err := e.Gateway.UpdateService(ctx, serviceID, rewrites, opts.Actor); err != nil {
			return fmt.Errorf("rewrite document urls: %w", err)
		}
	}
	doc["id"] = serviceID
	doc["supplierId"] = supplierID
	doc["frameworkSlug"] = opts.FrameworkSlug
	doc["lot"] = draft.LotSlug
	doc["serviceName"] = draft.ServiceName
	doc["status"] = domain.ServicePublished
	if err := e.Search.Index(ctx, opts.IndexName, serviceID, doc, "services"); err != nil {
		return fmt.Errorf("index service %s: %w", serviceID, err)
	}
	log.Info("published draft service", zap.String("service_id", serviceID))
	return nil
}

// migrateDocument copies one draft document into the live prefix and
// returns its post-publication URL. Draft uploads live under
// {framework}/{draftID}/{supplierID}-{draftID}-{name}.{ext}; the live copy
// goes to {framework}/documents/{supplierID}/{serviceID}-{name}.{ext}.
func (e *Engine) migrateDocument(ctx context.Context, srcURL string, opts PublishOptions, supplierID, draftID int, serviceID string) (string, error) {
	parsed, err := url.Parse(srcURL)
	if err != nil {
		return "", fmt.Errorf("parse document url %q: %w", srcURL, err)
	}
	srcKey := strings.TrimPrefix(parsed.Path, "/")
	filename := path.Base(srcKey)
	prefix := fmt.Sprintf("%d-%d-", supplierID, draftID)
	name := strings.TrimPrefix(filename, prefix)
	if name == filename {
		return "", fmt.Errorf("document %q does not carry the %s prefix", filename, prefix)
	}
	dstKey := fmt.Sprintf("%s/%s/%d/%s-%s", opts.FrameworkSlug, store.CategoryDocuments, supplierID, serviceID, name)
	// Live documents are served to buyers directly from the bucket.
	acl := map[string]string{"x-amz-acl": store.ACLPublicRead}
	if err := e.Store.Copy(ctx, srcKey, dstKey, acl); err != nil {
		return "", err
	}
	return strings.TrimRight(opts.AssetsBaseURL, "/") + "/" + dstKey, nil
}
