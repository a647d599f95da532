package domain

import (
	"fmt"
	"time"
)

// Framework statuses, in lifecycle order. Transitions are monotonic.
const (
	FrameworkComing     = "coming"
	FrameworkOpen       = "open"
	FrameworkPending    = "pending"
	FrameworkStandstill = "standstill"
	FrameworkLive       = "live"
	FrameworkExpired    = "expired"
)

var frameworkStatusOrder = map[string]int{
	FrameworkComing:     0,
	FrameworkOpen:       1,
	FrameworkPending:    2,
	FrameworkStandstill: 3,
	FrameworkLive:       4,
	FrameworkExpired:    5,
}

// Framework is a procurement instance, e.g. "g-cloud-12". It is created
// externally; this tool only moves its status and dates forward.
type Framework struct {
	Slug                  string     `json:"slug"`
	Name                  string     `json:"name"`
	Family                string     `json:"framework"`
	Status                string     `json:"status"`
	ApplicationsCloseAt   *time.Time `json:"applicationsCloseAtUTC,omitempty"`
	ClarificationsCloseAt *time.Time `json:"clarificationsCloseAtUTC,omitempty"`
	ClarificationsOpenAt  *time.Time `json:"clarificationsPublishAtUTC,omitempty"`
	IntentionToAwardAt    *time.Time `json:"intentionToAwardAtUTC,omitempty"`
	FrameworkLiveAt       *time.Time `json:"frameworkLiveAtUTC,omitempty"`
	FrameworkExpiresAt    *time.Time `json:"frameworkExpiresAtUTC,omitempty"`
	Lots                  []Lot      `json:"lots"`
	ESignatureSupported   bool       `json:"isESignatureSupported"`
	HasDirectAward        bool       `json:"hasDirectAward"`
	HasFurtherCompetition bool       `json:"hasFurtherCompetition"`
}

// Lot is a subdivision of a framework by kind of service.
type Lot struct {
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	OneServiceLimit bool   `json:"oneServiceLimit"`
	AllowsBrief     bool   `json:"allowsBrief"`
}

// Validate enforces construction invariants: a known status, unique lot
// slugs, and strictly ordered lifecycle timestamps.
func (f Framework) Validate() error {
	if f.Slug == "" {
		return &MalformedEntityError{Kind: "framework", Field: "slug", Reason: "empty"}
	}
	if _, ok := frameworkStatusOrder[f.Status]; !ok {
		return &MalformedEntityError{Kind: "framework", ID: f.Slug, Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	seen := make(map[string]bool, len(f.Lots))
	for _, lot := range f.Lots {
		if lot.Slug == "" {
			return &MalformedEntityError{Kind: "framework", ID: f.Slug, Field: "lots", Reason: "lot with empty slug"}
		}
		if seen[lot.Slug] {
			return &MalformedEntityError{Kind: "framework", ID: f.Slug, Field: "lots", Reason: fmt.Sprintf("duplicate lot slug %q", lot.Slug)}
		}
		seen[lot.Slug] = true
	}
	order := []*time.Time{
		f.ClarificationsCloseAt,
		f.ClarificationsOpenAt,
		f.ApplicationsCloseAt,
		f.IntentionToAwardAt,
		f.FrameworkLiveAt,
		f.FrameworkExpiresAt,
	}
	var prev *time.Time
	for _, ts := range order {
		if ts == nil {
			continue
		}
		if prev != nil && !prev.Before(*ts) {
			return &MalformedEntityError{Kind: "framework", ID: f.Slug, Field: "dates", Reason: "lifecycle timestamps out of order"}
		}
		prev = ts
	}
	return nil
}

// StatusPrecedes reports whether status a comes strictly before b in the
// framework lifecycle. Unknown statuses never precede anything.
func StatusPrecedes(a, b string) bool {
	ai, aok := frameworkStatusOrder[a]
	bi, bok := frameworkStatusOrder[b]
	return aok && bok && ai < bi
}

// Lot returns the lot with the given slug, if present.
func (f Framework) Lot(slug string) (Lot, bool) {
	for _, lot := range f.Lots {
		if lot.Slug == slug {
			return lot, true
		}
	}
	return Lot{}, false
}

// FrameworkPatch is the mutable subset of Framework. Nil fields are left
// untouched by the API; records are never mutated in place.
type FrameworkPatch struct {
	Status             *string    `json:"status,omitempty"`
	ClarificationsOpen *bool      `json:"clarificationQuestionsOpen,omitempty"`
	FrameworkExpiresAt *time.Time `json:"frameworkExpiresAtUTC,omitempty"`
}
