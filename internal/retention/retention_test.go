package retention_test

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"dmlifecycle/internal/api"
	"dmlifecycle/internal/domain"
	"dmlifecycle/internal/retention"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func timePtr(t time.Time) *time.Time { return &t }

func seqOf[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

type fakeGateway struct {
	mu sync.Mutex

	frameworks []domain.Framework
	onFW       map[string][]domain.SupplierFramework
	users      []domain.User
	suppliers  []domain.Supplier

	removedDeclarations []string // "supplierID/framework"
	scrubbedUsers       []int
	scrubbedContacts    []string // "supplierID/contactID"
}

func (g *fakeGateway) FindFrameworks(_ context.Context) iter.Seq2[domain.Framework, error] {
	return seqOf(g.frameworks)
}

func (g *fakeGateway) FindSuppliersOnFramework(_ context.Context, slug string, f api.SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error] {
	var out []domain.SupplierFramework
	for _, sf := range g.onFW[slug] {
		if f.OnFramework != nil && (sf.OnFramework == nil || *sf.OnFramework != *f.OnFramework) {
			continue
		}
		out = append(out, sf)
	}
	return seqOf(out)
}

func (g *fakeGateway) RemoveDeclaration(_ context.Context, supplierID int, slug, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedDeclarations = append(g.removedDeclarations, fmt.Sprintf("%d/%s", supplierID, slug))
	return nil
}

func (g *fakeGateway) FindUsers(_ context.Context, f api.UserFilters) iter.Seq2[domain.User, error] {
	var out []domain.User
	for _, u := range g.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.SupplierID != 0 && u.SupplierID != f.SupplierID {
			continue
		}
		if f.PersonalDataRemoved != nil && u.PersonalDataRemoved != *f.PersonalDataRemoved {
			continue
		}
		out = append(out, u)
	}
	return seqOf(out)
}

func (g *fakeGateway) RemoveUserPersonalData(_ context.Context, userID int, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scrubbedUsers = append(g.scrubbedUsers, userID)
	return nil
}

func (g *fakeGateway) FindSuppliers(_ context.Context) iter.Seq2[domain.Supplier, error] {
	return seqOf(g.suppliers)
}

func (g *fakeGateway) RemoveContactInformationPersonalData(_ context.Context, supplierID, contactID int, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scrubbedContacts = append(g.scrubbedContacts, fmt.Sprintf("%d/%d", supplierID, contactID))
	return nil
}

type fakeLists struct {
	mu        sync.Mutex
	members   map[string][]string // email -> list ids
	removed   []string            // "listID/email"
	removeErr error
}

func (f *fakeLists) ListsForEmail(_ context.Context, email string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[email], nil
}

func (f *fakeLists) PermanentlyRemove(_ context.Context, listID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, listID+"/"+email)
	return nil
}

func newSweeper(gw *fakeGateway, lists *fakeLists) *retention.Sweeper {
	s := retention.New(gw, lists, zap.NewNop())
	s.Now = func() time.Time { return fixedNow }
	s.Workers = 2
	s.Actor = "tester"
	return s
}

func rfc3339(t time.Time) string { return t.Format(time.RFC3339) }

func TestSweepUsersScrubsStaleOnly(t *testing.T) {
	gw := &fakeGateway{users: []domain.User{
		{ID: 1, Role: "supplier", EmailAddress: "stale@example.com", LoggedInAt: rfc3339(fixedNow.Add(-retention.RetainFor - time.Hour))},
		{ID: 2, Role: "supplier", EmailAddress: "fresh@example.com", LoggedInAt: rfc3339(fixedNow.Add(-time.Hour))},
		{ID: 3, Role: "supplier", EmailAddress: "never@example.com"},
		{ID: 4, Role: "buyer", EmailAddress: "buyer@example.com"},
		{ID: 5, Role: "supplier", EmailAddress: "", PersonalDataRemoved: true},
	}}
	lists := &fakeLists{members: map[string][]string{
		"stale@example.com": {"list-1", "list-2"},
	}}
	s := newSweeper(gw, lists)

	summary, err := s.SweepUsers(context.Background())
	if err != nil {
		t.Fatalf("SweepUsers: %v", err)
	}
	// Users 1 and 3 are stale; 2 is fresh; 4 has the wrong role and 5 is
	// already scrubbed, so neither is listed.
	if summary.Succeeded != 2 || summary.Skipped != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	scrubbed := map[int]bool{}
	for _, id := range gw.scrubbedUsers {
		scrubbed[id] = true
	}
	if !scrubbed[1] || !scrubbed[3] || len(scrubbed) != 2 {
		t.Fatalf("scrubbed = %v", gw.scrubbedUsers)
	}
	if len(lists.removed) != 2 {
		t.Fatalf("list removals = %v", lists.removed)
	}
}

func TestSweepUsersRequiresListRemovalFirst(t *testing.T) {
	gw := &fakeGateway{users: []domain.User{
		{ID: 1, Role: "supplier", EmailAddress: "stale@example.com"},
	}}
	lists := &fakeLists{
		members:   map[string][]string{"stale@example.com": {"list-1"}},
		removeErr: fmt.Errorf("provider down"),
	}
	s := newSweeper(gw, lists)

	summary, err := s.SweepUsers(context.Background())
	if err != nil {
		t.Fatalf("SweepUsers: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(gw.scrubbedUsers) != 0 {
		t.Fatalf("user scrubbed despite failed list removal: %v", gw.scrubbedUsers)
	}
}

func TestSweepUsersUnparsableLoginFails(t *testing.T) {
	gw := &fakeGateway{users: []domain.User{
		{ID: 1, Role: "supplier", EmailAddress: "odd@example.com", LoggedInAt: "yesterday"},
	}}
	s := newSweeper(gw, &fakeLists{})

	summary, err := s.SweepUsers(context.Background())
	if err != nil {
		t.Fatalf("SweepUsers: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSweepUsersDryRun(t *testing.T) {
	gw := &fakeGateway{users: []domain.User{
		{ID: 1, Role: "supplier", EmailAddress: "stale@example.com"},
	}}
	lists := &fakeLists{members: map[string][]string{"stale@example.com": {"list-1"}}}
	s := newSweeper(gw, lists)
	s.DryRun = true

	summary, err := s.SweepUsers(context.Background())
	if err != nil {
		t.Fatalf("SweepUsers: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(gw.scrubbedUsers) != 0 || len(lists.removed) != 0 {
		t.Fatalf("dry run performed writes")
	}
}

func declaration() domain.Declaration {
	return domain.Declaration{Status: domain.DeclarationComplete, Answers: map[string]any{"q": true}}
}

func TestSweepFailedDeclarations(t *testing.T) {
	gw := &fakeGateway{onFW: map[string][]domain.SupplierFramework{
		"g-cloud-9": {
			{SupplierID: 1, FrameworkSlug: "g-cloud-9", OnFramework: boolPtr(false), Declaration: declaration()},
			{SupplierID: 2, FrameworkSlug: "g-cloud-9", OnFramework: boolPtr(false)}, // already removed
			{SupplierID: 3, FrameworkSlug: "g-cloud-9", OnFramework: boolPtr(true), Declaration: declaration()},
		},
	}}
	s := newSweeper(gw, &fakeLists{})

	summary, err := s.SweepFailedDeclarations(context.Background(), "g-cloud-9")
	if err != nil {
		t.Fatalf("SweepFailedDeclarations: %v", err)
	}
	if summary.Succeeded != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(gw.removedDeclarations) != 1 || gw.removedDeclarations[0] != "1/g-cloud-9" {
		t.Fatalf("removed = %v", gw.removedDeclarations)
	}
}

func TestSweepExpiredDeclarationsUsesFrameworkExpiry(t *testing.T) {
	longGone := fixedNow.Add(-retention.RetainFor - 24*time.Hour)
	recentlyExpired := fixedNow.Add(-30 * 24 * time.Hour)
	gw := &fakeGateway{
		frameworks: []domain.Framework{
			{Slug: "g-cloud-8", Status: domain.FrameworkExpired, FrameworkExpiresAt: timePtr(longGone)},
			{Slug: "g-cloud-11", Status: domain.FrameworkExpired, FrameworkExpiresAt: timePtr(recentlyExpired)},
			{Slug: "g-cloud-12", Status: domain.FrameworkLive},
		},
		onFW: map[string][]domain.SupplierFramework{
			"g-cloud-8": {
				{SupplierID: 1, FrameworkSlug: "g-cloud-8", Declaration: declaration()},
				{SupplierID: 2, FrameworkSlug: "g-cloud-8", Declaration: declaration()},
			},
			"g-cloud-11": {
				{SupplierID: 3, FrameworkSlug: "g-cloud-11", Declaration: declaration()},
			},
		},
	}
	s := newSweeper(gw, &fakeLists{})

	summary, err := s.SweepExpiredDeclarations(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredDeclarations: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	for _, got := range gw.removedDeclarations {
		if got != "1/g-cloud-8" && got != "2/g-cloud-8" {
			t.Fatalf("removed declaration outside the window: %v", gw.removedDeclarations)
		}
	}
	if len(gw.removedDeclarations) != 2 {
		t.Fatalf("removed = %v", gw.removedDeclarations)
	}
}

func TestScrubContactsGatedOnUsers(t *testing.T) {
	gw := &fakeGateway{
		suppliers: []domain.Supplier{
			{ID: 1, Name: "All Scrubbed", ContactInformation: []domain.ContactInformation{
				{ID: 100, Email: "a@example.com"},
				{ID: 101, Email: "b@example.com", PersonalDataRemoved: true},
			}},
			{ID: 2, Name: "Active Users", ContactInformation: []domain.ContactInformation{
				{ID: 200, Email: "c@example.com"},
			}},
			{ID: 3, Name: "No Users", ContactInformation: []domain.ContactInformation{
				{ID: 300, Email: "d@example.com"},
			}},
			{ID: 4, Name: "Nothing Left", ContactInformation: []domain.ContactInformation{
				{ID: 400, PersonalDataRemoved: true},
			}},
		},
		users: []domain.User{
			{ID: 1, Role: "supplier", SupplierID: 1, EmailAddress: "", PersonalDataRemoved: true},
			{ID: 2, Role: "supplier", SupplierID: 2, EmailAddress: "live@example.com"},
		},
	}
	s := newSweeper(gw, &fakeLists{})

	summary, err := s.ScrubContacts(context.Background())
	if err != nil {
		t.Fatalf("ScrubContacts: %v", err)
	}
	if summary.Succeeded != 2 || summary.Skipped != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	scrubbed := map[string]bool{}
	for _, c := range gw.scrubbedContacts {
		scrubbed[c] = true
	}
	if !scrubbed["1/100"] || !scrubbed["3/300"] || len(scrubbed) != 2 {
		t.Fatalf("scrubbed contacts = %v", gw.scrubbedContacts)
	}
}
