package lifecycle_test

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/adjudicate"
	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/lifecycle"
)

var fixedNow = time.Date(2020, 9, 14, 10, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func seqOf[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// fakeGateway is an in-memory Data API double shared by the engine tests.
// Mutations are recorded under a lock because sweeps run on a pool.
type fakeGateway struct {
	mu sync.Mutex

	framework *domain.Framework
	onFW      []domain.SupplierFramework
	drafts    map[int][]domain.DraftService
	services  []domain.Service
	suppliers map[int]*domain.Supplier

	frameworkPatches []domain.FrameworkPatch
	results          map[int]bool
	serviceUpdates   map[string]map[string]any
	supplierPatches  []patchCall
	auditEvents      []string

	publishErr map[int]error
}

type patchCall struct {
	supplierID int
	duns       string
	actor      string
}

func newFakeGateway(fw *domain.Framework) *fakeGateway {
	return &fakeGateway{
		framework:      fw,
		drafts:         map[int][]domain.DraftService{},
		results:        map[int]bool{},
		serviceUpdates: map[string]map[string]any{},
		suppliers:      map[int]*domain.Supplier{},
		publishErr:     map[int]error{},
	}
}

func (g *fakeGateway) GetFramework(_ context.Context, slug string) (*domain.Framework, error) {
	if g.framework == nil || g.framework.Slug != slug {
		return nil, fmt.Errorf("no framework %q", slug)
	}
	return g.framework, nil
}

func (g *fakeGateway) UpdateFramework(_ context.Context, _ string, patch domain.FrameworkPatch, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frameworkPatches = append(g.frameworkPatches, patch)
	return nil
}

func (g *fakeGateway) FindSuppliersOnFramework(_ context.Context, _ string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error] {
	var out []domain.SupplierFramework
	for _, sf := range g.onFW {
		if f.OnFramework != nil && (sf.OnFramework == nil || *sf.OnFramework != *f.OnFramework) {
			continue
		}
		out = append(out, sf)
	}
	return seqOf(out)
}

func (g *fakeGateway) GetSupplierFramework(_ context.Context, supplierID int, _ string) (*domain.SupplierFramework, error) {
	for _, sf := range g.onFW {
		if sf.SupplierID == supplierID {
			return &sf, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) FindDraftServices(_ context.Context, supplierID int, _ string) iter.Seq2[domain.DraftService, error] {
	return seqOf(g.drafts[supplierID])
}

func (g *fakeGateway) SetFrameworkResult(_ context.Context, supplierID int, _ string, onFramework bool, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[supplierID] = onFramework
	return nil
}

func (g *fakeGateway) PublishDraftService(_ context.Context, draftID int, _ string) (string, error) {
	if err := g.publishErr[draftID]; err != nil {
		return "", err
	}
	return fmt.Sprintf("90000%d", draftID), nil
}

func (g *fakeGateway) UpdateService(_ context.Context, id string, attributes map[string]any, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serviceUpdates[id] = attributes
	return nil
}

func (g *fakeGateway) CreateAuditEvent(_ context.Context, eventType, _ string, _ map[string]any, _, objectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.auditEvents = append(g.auditEvents, eventType+":"+objectID)
	return nil
}

func (g *fakeGateway) GetSupplier(_ context.Context, id int) (*domain.Supplier, error) {
	s, ok := g.suppliers[id]
	if !ok {
		return nil, fmt.Errorf("no supplier %d", id)
	}
	return s, nil
}

func (g *fakeGateway) SupplierWithDUNS(_ context.Context, duns string) (*domain.Supplier, error) {
	for _, s := range g.suppliers {
		if s.DUNSNumber == duns {
			return s, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) UpdateSupplier(_ context.Context, id int, patch domain.SupplierPatch, actor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.suppliers[id]
	if !ok {
		return fmt.Errorf("no supplier %d", id)
	}
	if patch.DUNSNumber != nil {
		s.DUNSNumber = *patch.DUNSNumber
		g.supplierPatches = append(g.supplierPatches, patchCall{supplierID: id, duns: *patch.DUNSNumber, actor: actor})
	}
	return nil
}

func (g *fakeGateway) FindServices(_ context.Context, f api.ServiceFilters) iter.Seq2[domain.Service, error] {
	var out []domain.Service
	for _, svc := range g.services {
		if f.FrameworkSlug != "" && svc.FrameworkSlug != f.FrameworkSlug {
			continue
		}
		out = append(out, svc)
	}
	return seqOf(out)
}

type fakeIndexer struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func (f *fakeIndexer) Index(_ context.Context, _ string, docID string, doc map[string]any, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs == nil {
		f.docs = map[string]map[string]any{}
	}
	f.docs[docID] = doc
	return nil
}

type fakeDocStore struct {
	mu     sync.Mutex
	copies map[string]string
	acls   map[string]string
}

func (f *fakeDocStore) Copy(_ context.Context, src, dst string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copies == nil {
		f.copies = map[string]string{}
		f.acls = map[string]string{}
	}
	f.copies[src] = dst
	f.acls[dst] = metadata["x-amz-acl"]
	return nil
}

func newEngine(gw *fakeGateway, search *fakeIndexer, docs *fakeDocStore) *lifecycle.Engine {
	e := lifecycle.New(gw, search, docs, zap.NewNop())
	e.Now = func() time.Time { return fixedNow }
	e.Workers = 2
	return e
}

func testFramework(status string) *domain.Framework {
	return &domain.Framework{
		Slug:   "g-cloud-12",
		Name:   "G-Cloud 12",
		Family: "g-cloud",
		Status: status,
		Lots: []domain.Lot{
			{Slug: "cloud-hosting", Name: "Cloud hosting", OneServiceLimit: false},
			{Slug: "cloud-support", Name: "Cloud support", OneServiceLimit: true},
		},
	}
}

func TestSetStatusAdvancesOneStep(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkStandstill))
	e := newEngine(gw, nil, nil)

	if err := e.SetStatus(context.Background(), "g-cloud-12", domain.FrameworkLive, "tester", false); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if len(gw.frameworkPatches) != 1 {
		t.Fatalf("patches = %d", len(gw.frameworkPatches))
	}
	if got := *gw.frameworkPatches[0].Status; got != domain.FrameworkLive {
		t.Fatalf("patched status = %q", got)
	}
}

func TestSetStatusRejectsSkippedSteps(t *testing.T) {
	cases := []struct{ from, to string }{
		{domain.FrameworkOpen, domain.FrameworkLive},
		{domain.FrameworkLive, domain.FrameworkOpen},
		{domain.FrameworkExpired, domain.FrameworkLive},
		{domain.FrameworkPending, domain.FrameworkPending},
	}
	for _, tc := range cases {
		gw := newFakeGateway(testFramework(tc.from))
		e := newEngine(gw, nil, nil)
		err := e.SetStatus(context.Background(), "g-cloud-12", tc.to, "tester", false)
		if err == nil {
			t.Fatalf("SetStatus %s -> %s: expected error", tc.from, tc.to)
		}
		if len(gw.frameworkPatches) != 0 {
			t.Fatalf("%s -> %s mutated the framework", tc.from, tc.to)
		}
	}
}

func TestSetStatusDryRunDoesNotMutate(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	e := newEngine(gw, nil, nil)
	if err := e.SetStatus(context.Background(), "g-cloud-12", domain.FrameworkStandstill, "tester", true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if len(gw.frameworkPatches) != 0 {
		t.Fatalf("dry run mutated the framework")
	}
}

func adjudicationRules() *adjudicate.RuleSchema {
	return &adjudicate.RuleSchema{
		Framework:   "g-cloud-12",
		MustBeTrue:  []string{"termsAndConditions"},
		MustBeFalse: []string{"misleadingInformation"},
	}
}

func passingDeclaration() domain.Declaration {
	return domain.Declaration{
		Status: domain.DeclarationComplete,
		Answers: map[string]any{
			"termsAndConditions":    true,
			"misleadingInformation": false,
		},
	}
}

func failingDeclaration() domain.Declaration {
	d := passingDeclaration()
	d.Answers["misleadingInformation"] = true
	return d
}

func submittedDraft(id, supplierID int, lot, name string) domain.DraftService {
	return domain.DraftService{
		ID:            id,
		SupplierID:    supplierID,
		FrameworkSlug: "g-cloud-12",
		LotSlug:       lot,
		Status:        domain.DraftSubmitted,
		ServiceName:   name,
		Attributes:    map[string]any{},
	}
}

func TestAdjudicateRecordsResults(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 101, FrameworkSlug: "g-cloud-12", Declaration: passingDeclaration()},
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", Declaration: failingDeclaration()},
		{SupplierID: 103, FrameworkSlug: "g-cloud-12"}, // never applied
	}
	gw.drafts[101] = []domain.DraftService{submittedDraft(1, 101, "cloud-hosting", "Widget Hosting")}
	gw.drafts[102] = []domain.DraftService{submittedDraft(2, 102, "cloud-hosting", "Other Hosting")}
	e := newEngine(gw, nil, nil)

	summary, verdicts, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug: "g-cloud-12",
		Rules:         adjudicationRules(),
		Actor:         "tester",
	})
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if summary.Succeeded != 2 || summary.Skipped != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if got, want := gw.results[101], true; got != want {
		t.Fatalf("supplier 101 onFramework = %v", got)
	}
	if got, want := gw.results[102], false; got != want {
		t.Fatalf("supplier 102 onFramework = %v", got)
	}
	if _, decided := gw.results[103]; decided {
		t.Fatalf("supplier with no declaration was decided")
	}
	if len(verdicts) != 2 {
		t.Fatalf("verdicts = %d", len(verdicts))
	}
	for _, v := range verdicts {
		if !v.Applied {
			t.Fatalf("verdict for %d not applied", v.SupplierID)
		}
	}
}

func TestAdjudicateSkipsAlreadyDecided(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 101, FrameworkSlug: "g-cloud-12", Declaration: passingDeclaration(), OnFramework: boolPtr(true)},
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", Declaration: failingDeclaration(), OnFramework: boolPtr(false)},
	}
	gw.drafts[101] = []domain.DraftService{submittedDraft(1, 101, "cloud-hosting", "Widget Hosting")}
	gw.drafts[102] = []domain.DraftService{submittedDraft(2, 102, "cloud-hosting", "Other Hosting")}
	e := newEngine(gw, nil, nil)

	summary, _, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug: "g-cloud-12",
		Rules:         adjudicationRules(),
		Actor:         "tester",
	})
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if summary.Skipped != 2 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(gw.results) != 0 {
		t.Fatalf("re-run mutated decided suppliers: %v", gw.results)
	}
}

func TestAdjudicateReassessesWhenAsked(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	// Declaration now fails, but the supplier was previously passed.
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 101, FrameworkSlug: "g-cloud-12", Declaration: failingDeclaration(), OnFramework: boolPtr(true)},
	}
	e := newEngine(gw, nil, nil)

	_, _, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug:  "g-cloud-12",
		Rules:          adjudicationRules(),
		Actor:          "tester",
		ReassessPassed: true,
		ReassessFailed: true,
	})
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if got, decided := gw.results[101]; !decided || got {
		t.Fatalf("supplier 101 result = %v decided=%v, want failed", got, decided)
	}
}

func TestAdjudicateHonoursIncludeAndExcludeLists(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 101, FrameworkSlug: "g-cloud-12", Declaration: passingDeclaration()},
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", Declaration: passingDeclaration()},
		{SupplierID: 103, FrameworkSlug: "g-cloud-12", Declaration: passingDeclaration()},
	}
	for id := 101; id <= 103; id++ {
		gw.drafts[id] = []domain.DraftService{submittedDraft(id, id, "cloud-hosting", "Hosting")}
	}
	e := newEngine(gw, nil, nil)

	_, _, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug:       "g-cloud-12",
		Rules:               adjudicationRules(),
		Actor:               "tester",
		SupplierIDs:         []int{101, 102},
		ExcludedSupplierIDs: []int{102},
	})
	if err != nil {
		t.Fatalf("Adjudicate: %v", err)
	}
	if len(gw.results) != 1 {
		t.Fatalf("results = %v", gw.results)
	}
	if _, ok := gw.results[101]; !ok {
		t.Fatalf("supplier 101 not decided: %v", gw.results)
	}
}

func TestAdjudicateRefusesOpenFramework(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkOpen))
	e := newEngine(gw, nil, nil)
	_, _, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug: "g-cloud-12",
		Rules:         adjudicationRules(),
	})
	if err == nil || !strings.Contains(err.Error(), "pending or later") {
		t.Fatalf("err = %v", err)
	}
}

func TestAdjudicateRejectsForeignRuleset(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	e := newEngine(gw, nil, nil)
	rules := adjudicationRules()
	rules.Framework = "g-cloud-11"
	_, _, err := e.Adjudicate(context.Background(), lifecycle.AdjudicateOptions{
		FrameworkSlug: "g-cloud-12",
		Rules:         rules,
	})
	if err == nil || !strings.Contains(err.Error(), "ruleset is for") {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishMigratesDocumentsAndIndexes(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkStandstill))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", OnFramework: boolPtr(true)},
		{SupplierID: 103, FrameworkSlug: "g-cloud-12", OnFramework: boolPtr(false)},
	}
	draft := submittedDraft(555, 102, "cloud-hosting", "Widget Hosting")
	draft.Attributes["pricingDocumentURL"] = "https://uploads.example.com/g-cloud-12/555/102-555-pricing.pdf"
	draft.Attributes["serviceSummary"] = "Hosting for widgets"
	gw.drafts[102] = []domain.DraftService{draft}
	gw.drafts[103] = []domain.DraftService{submittedDraft(556, 103, "cloud-hosting", "Rejected Hosting")}

	search := &fakeIndexer{}
	docs := &fakeDocStore{}
	e := newEngine(gw, search, docs)

	summary, err := e.Publish(context.Background(), lifecycle.PublishOptions{
		FrameworkSlug: "g-cloud-12",
		IndexName:     "g-cloud-12",
		AssetsBaseURL: "https://assets.digitalmarketplace.service.gov.uk",
		Actor:         "tester",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	serviceID := "90000555"
	srcKey := "g-cloud-12/555/102-555-pricing.pdf"
	wantDst := "g-cloud-12/documents/102/" + serviceID + "-pricing.pdf"
	if got := docs.copies[srcKey]; got != wantDst {
		t.Fatalf("copied %q -> %q, want %q", srcKey, got, wantDst)
	}
	if got := docs.acls[wantDst]; got != "public-read" {
		t.Fatalf("live document acl = %q", got)
	}

	wantURL := "https://assets.digitalmarketplace.service.gov.uk/" + wantDst
	update := gw.serviceUpdates[serviceID]
	if update == nil {
		t.Fatalf("service %s never updated", serviceID)
	}
	if got := update["pricingDocumentURL"]; got != wantURL {
		t.Fatalf("rewritten url = %v, want %q", got, wantURL)
	}
	if _, ok := update["serviceSummary"]; ok {
		t.Fatalf("non-document attribute included in the rewrite patch")
	}

	doc := search.docs[serviceID]
	if doc == nil {
		t.Fatalf("service %s never indexed", serviceID)
	}
	if doc["status"] != domain.ServicePublished || doc["supplierId"] != 102 || doc["lot"] != "cloud-hosting" {
		t.Fatalf("indexed doc = %v", doc)
	}
	if doc["pricingDocumentURL"] != wantURL {
		t.Fatalf("indexed doc carries stale url %v", doc["pricingDocumentURL"])
	}

	if _, touched := gw.serviceUpdates["90000556"]; touched {
		t.Fatalf("rejected supplier's draft was published")
	}
}

func TestPublishRejectsDocumentWithoutDraftPrefix(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkLive))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", OnFramework: boolPtr(true)},
	}
	draft := submittedDraft(555, 102, "cloud-hosting", "Widget Hosting")
	draft.Attributes["pricingDocumentURL"] = "https://uploads.example.com/g-cloud-12/555/pricing.pdf"
	gw.drafts[102] = []domain.DraftService{draft}
	e := newEngine(gw, &fakeIndexer{}, &fakeDocStore{})

	summary, err := e.Publish(context.Background(), lifecycle.PublishOptions{
		FrameworkSlug: "g-cloud-12",
		IndexName:     "g-cloud-12",
		AssetsBaseURL: "https://assets.example.com",
		Actor:         "tester",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestPublishDeduplicatesOneServiceLimitLots(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkStandstill))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", OnFramework: boolPtr(true)},
	}
	thin := submittedDraft(601, 102, "cloud-support", "Support  Desk")
	sparse := map[string]any{"a": 1}
	thin.Attributes = sparse
	full := submittedDraft(602, 102, "cloud-support", "support desk")
	full.Attributes = map[string]any{"a": 1, "b": 2, "c": 3}
	unrelated := submittedDraft(603, 102, "cloud-support", "Training")
	abandoned := submittedDraft(604, 102, "cloud-support", "Old Desk")
	abandoned.Status = domain.DraftNotSubmitted
	gw.drafts[102] = []domain.DraftService{thin, full, unrelated, abandoned}

	search := &fakeIndexer{}
	e := newEngine(gw, search, &fakeDocStore{})

	if _, err := e.Publish(context.Background(), lifecycle.PublishOptions{
		FrameworkSlug: "g-cloud-12",
		IndexName:     "g-cloud-12",
		AssetsBaseURL: "https://assets.example.com",
		Actor:         "tester",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var indexed []string
	for id := range search.docs {
		indexed = append(indexed, id)
	}
	sort.Strings(indexed)
	want := []string{"90000602", "90000603"}
	if len(indexed) != len(want) || indexed[0] != want[0] || indexed[1] != want[1] {
		t.Fatalf("indexed = %v, want %v", indexed, want)
	}
}

func TestPublishRefusesBeforeStandstill(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	e := newEngine(gw, &fakeIndexer{}, &fakeDocStore{})
	_, err := e.Publish(context.Background(), lifecycle.PublishOptions{FrameworkSlug: "g-cloud-12"})
	if err == nil || !strings.Contains(err.Error(), "standstill or later") {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishDryRunTouchesNothing(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkStandstill))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 102, FrameworkSlug: "g-cloud-12", OnFramework: boolPtr(true)},
	}
	gw.drafts[102] = []domain.DraftService{submittedDraft(555, 102, "cloud-hosting", "Widget Hosting")}
	search := &fakeIndexer{}
	docs := &fakeDocStore{}
	e := newEngine(gw, search, docs)

	summary, err := e.Publish(context.Background(), lifecycle.PublishOptions{
		FrameworkSlug: "g-cloud-12",
		IndexName:     "g-cloud-12",
		DryRun:        true,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(search.docs) != 0 || len(docs.copies) != 0 || len(gw.serviceUpdates) != 0 {
		t.Fatalf("dry run performed writes")
	}
}

func TestSnapshotStatsTallies(t *testing.T) {
	gw := newFakeGateway(testFramework(domain.FrameworkPending))
	gw.onFW = []domain.SupplierFramework{
		{SupplierID: 1, FrameworkSlug: "g-cloud-12", Declaration: domain.Declaration{Status: domain.DeclarationStarted, Answers: map[string]any{"x": 1}}},
		{SupplierID: 2, FrameworkSlug: "g-cloud-12", Declaration: domain.Declaration{Status: domain.DeclarationComplete, Answers: map[string]any{"x": 1}}, OnFramework: boolPtr(true)},
		{SupplierID: 3, FrameworkSlug: "g-cloud-12", Declaration: domain.Declaration{Status: domain.DeclarationComplete, Answers: map[string]any{"x": 1}}, OnFramework: boolPtr(false)},
		{SupplierID: 4, FrameworkSlug: "g-cloud-12"},
	}
	e := newEngine(gw, nil, nil)

	stats, err := e.SnapshotStats(context.Background(), "g-cloud-12", "tester", false)
	if err != nil {
		t.Fatalf("SnapshotStats: %v", err)
	}
	if stats.Interested != 4 || stats.Started != 1 || stats.Complete != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Awarded != 1 || stats.Rejected != 1 || stats.Undecided != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(gw.auditEvents) != 1 {
		t.Fatalf("audit events = %v", gw.auditEvents)
	}
}

func TestSwapDUNSExchangesNumbers(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.suppliers[1] = &domain.Supplier{ID: 1, DUNSNumber: "111111111"}
	gw.suppliers[2] = &domain.Supplier{ID: 2, DUNSNumber: "222222222"}

	state, err := lifecycle.SwapDUNS(context.Background(), gw, zap.NewNop(), 1, 2, "tester", false)
	if err != nil {
		t.Fatalf("SwapDUNS: %v", err)
	}
	if !state.SwapComplete {
		t.Fatalf("state = %+v", state)
	}
	if gw.suppliers[1].DUNSNumber != "222222222" || gw.suppliers[2].DUNSNumber != "111111111" {
		t.Fatalf("post-swap DUNS: %q / %q", gw.suppliers[1].DUNSNumber, gw.suppliers[2].DUNSNumber)
	}
	want := []patchCall{
		{supplierID: 2, duns: lifecycle.PlaceholderDUNS, actor: "tester"},
		{supplierID: 1, duns: "222222222", actor: "tester"},
		{supplierID: 2, duns: "111111111", actor: "tester"},
	}
	if len(gw.supplierPatches) != len(want) {
		t.Fatalf("patches = %+v", gw.supplierPatches)
	}
	for i, p := range gw.supplierPatches {
		if p != want[i] {
			t.Fatalf("patch %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestSwapDUNSRefusesHeldPlaceholder(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.suppliers[1] = &domain.Supplier{ID: 1, DUNSNumber: "111111111"}
	gw.suppliers[2] = &domain.Supplier{ID: 2, DUNSNumber: "222222222"}
	gw.suppliers[3] = &domain.Supplier{ID: 3, DUNSNumber: lifecycle.PlaceholderDUNS}

	_, err := lifecycle.SwapDUNS(context.Background(), gw, zap.NewNop(), 1, 2, "tester", false)
	if err == nil || !strings.Contains(err.Error(), "held by supplier 3") {
		t.Fatalf("err = %v", err)
	}
	if len(gw.supplierPatches) != 0 {
		t.Fatalf("refused swap still mutated suppliers")
	}
}

func TestSwapDUNSRefusesSelfAndMissingNumbers(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.suppliers[1] = &domain.Supplier{ID: 1, DUNSNumber: "111111111"}
	gw.suppliers[2] = &domain.Supplier{ID: 2}

	if _, err := lifecycle.SwapDUNS(context.Background(), gw, zap.NewNop(), 1, 1, "tester", false); err == nil {
		t.Fatalf("self swap accepted")
	}
	_, err := lifecycle.SwapDUNS(context.Background(), gw, zap.NewNop(), 1, 2, "tester", false)
	if err == nil || !strings.Contains(err.Error(), "must hold a DUNS number") {
		t.Fatalf("err = %v", err)
	}
}

func TestSwapDUNSDryRunReportsWithoutWriting(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.suppliers[1] = &domain.Supplier{ID: 1, DUNSNumber: "111111111"}
	gw.suppliers[2] = &domain.Supplier{ID: 2, DUNSNumber: "222222222"}

	state, err := lifecycle.SwapDUNS(context.Background(), gw, zap.NewNop(), 1, 2, "tester", true)
	if err != nil {
		t.Fatalf("SwapDUNS: %v", err)
	}
	if !state.SwapComplete {
		t.Fatalf("state = %+v", state)
	}
	if len(gw.supplierPatches) != 0 {
		t.Fatalf("dry run mutated suppliers")
	}
}

func TestScanTermsFindsProse(t *testing.T) {
	gw := newFakeGateway(nil)
	gw.services = []domain.Service{
		{
			ID: "9001", SupplierID: 10, FrameworkSlug: "g-cloud-12", Status: domain.ServicePublished,
			Attributes: map[string]any{
				"serviceSummary": "A World-Beating platform",
				"benefits":       []any{"totally guaranteed uptime", 42},
			},
		},
		{
			ID: "9000", SupplierID: 11, FrameworkSlug: "g-cloud-12", Status: domain.ServicePublished,
			Attributes: map[string]any{
				"serviceSummary": "Nothing to see",
				"price":          12.50,
			},
		},
		{
			ID: "8000", SupplierID: 12, FrameworkSlug: "g-cloud-11", Status: domain.ServicePublished,
			Attributes: map[string]any{
				"serviceSummary": "world-beating but on another framework",
			},
		},
	}

	matches, err := lifecycle.ScanTerms(context.Background(), gw, "g-cloud-12", []string{" World-Beating ", "GUARANTEED", ""})
	if err != nil {
		t.Fatalf("ScanTerms: %v", err)
	}
	want := []lifecycle.TermMatch{
		{Service: "9001", SupplierID: 10, Field: "benefits", Term: "guaranteed"},
		{Service: "9001", SupplierID: 10, Field: "serviceSummary", Term: "world-beating"},
	}
	if len(matches) != len(want) {
		t.Fatalf("matches = %+v", matches)
	}
	for i, m := range matches {
		if m != want[i] {
			t.Fatalf("match %d = %+v, want %+v", i, m, want[i])
		}
	}
}
