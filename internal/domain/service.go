package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DraftService statuses. not-submitted -> submitted -> (failed|published);
// failed and published are terminal.
const (
	DraftNotSubmitted = "not-submitted"
	DraftSubmitted    = "submitted"
	DraftFailed       = "failed"
	DraftPublished    = "published"
)

// Service statuses. disabled set by the suspension pass is reversible only
// through the unsuspension pass, keyed on audit authorship.
const (
	ServicePublished = "published"
	ServiceDisabled  = "disabled"
	ServiceEnabled   = "enabled"
	ServiceRemoved   = "removed"
)

// DraftService is a candidate service a supplier offers against one lot of
// one framework. Attributes beyond the typed fields live in the bag.
type DraftService struct {
	ID            int            `json:"id"`
	SupplierID    int            `json:"supplierId"`
	FrameworkSlug string         `json:"frameworkSlug"`
	LotSlug       string         `json:"lot"`
	Status        string         `json:"status"`
	ServiceName   string         `json:"serviceName"`
	CopiedFromID  int            `json:"copiedFromServiceId,omitempty"`
	Attributes    map[string]any `json:"-"`
}

func (d DraftService) Validate() error {
	if d.ID == 0 {
		return &MalformedEntityError{Kind: "draftService", Field: "id", Reason: "missing"}
	}
	switch d.Status {
	case DraftNotSubmitted, DraftSubmitted, DraftFailed, DraftPublished:
	default:
		return &MalformedEntityError{Kind: "draftService", ID: itoa(d.ID), Field: "status", Reason: fmt.Sprintf("unknown status %q", d.Status)}
	}
	return nil
}

// EnsureDraftTransition guards the draft lifecycle. Terminal states accept
// nothing.
func EnsureDraftTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case DraftNotSubmitted:
		if newStatus == DraftSubmitted {
			return nil
		}
	case DraftSubmitted:
		if newStatus == DraftFailed || newStatus == DraftPublished {
			return nil
		}
	}
	return fmt.Errorf("invalid draft service status transition %s -> %s", oldStatus, newStatus)
}

// draftServiceAlias avoids recursion in the JSON hooks below.
type draftServiceAlias DraftService

// UnmarshalJSON decodes the typed fields and keeps every other attribute in
// the open-ended bag, so document URL rewrites round-trip unknown keys.
func (d *DraftService) UnmarshalJSON(data []byte) error {
	var a draftServiceAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range []string{"id", "supplierId", "frameworkSlug", "lot", "status", "serviceName", "copiedFromServiceId"} {
		delete(raw, k)
	}
	*d = DraftService(a)
	d.Attributes = raw
	return nil
}

func (d DraftService) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Attributes)+7)
	for k, v := range d.Attributes {
		out[k] = v
	}
	out["id"] = d.ID
	out["supplierId"] = d.SupplierID
	out["frameworkSlug"] = d.FrameworkSlug
	out["lot"] = d.LotSlug
	out["status"] = d.Status
	out["serviceName"] = d.ServiceName
	if d.CopiedFromID != 0 {
		out["copiedFromServiceId"] = d.CopiedFromID
	}
	return json.Marshal(out)
}

// DocumentKeys lists the attribute names whose values are object-store URLs
// that must be rewritten when a draft is published.
var DocumentKeys = []string{
	"pricingDocumentURL",
	"serviceDefinitionDocumentURL",
	"sfiaRateDocumentURL",
	"termsAndConditionsDocumentURL",
}

// Service is a published DraftService in its own id namespace.
type Service struct {
	ID            string         `json:"id"`
	SupplierID    int            `json:"supplierId"`
	FrameworkSlug string         `json:"frameworkSlug"`
	LotSlug       string         `json:"lot"`
	Status        string         `json:"status"`
	ServiceName   string         `json:"serviceName"`
	Attributes    map[string]any `json:"-"`
}

func (s Service) Validate() error {
	if s.ID == "" {
		return &MalformedEntityError{Kind: "service", Field: "id", Reason: "missing"}
	}
	switch s.Status {
	case ServicePublished, ServiceDisabled, ServiceEnabled, ServiceRemoved:
	default:
		return &MalformedEntityError{Kind: "service", ID: s.ID, Field: "status", Reason: fmt.Sprintf("unknown status %q", s.Status)}
	}
	return nil
}

type serviceAlias Service

func (s *Service) UnmarshalJSON(data []byte) error {
	var a serviceAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range []string{"id", "supplierId", "frameworkSlug", "lot", "status", "serviceName"} {
		delete(raw, k)
	}
	*s = Service(a)
	s.Attributes = raw
	return nil
}

func (s Service) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Attributes)+6)
	for k, v := range s.Attributes {
		out[k] = v
	}
	out["id"] = s.ID
	out["supplierId"] = s.SupplierID
	out["frameworkSlug"] = s.FrameworkSlug
	out["lot"] = s.LotSlug
	out["status"] = s.Status
	out["serviceName"] = s.ServiceName
	return json.Marshal(out)
}

// NormalisedName folds a service name for duplicate detection across drafts
// produced by earlier recovery passes.
func NormalisedName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
