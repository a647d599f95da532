package api

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dmlifecycle/internal/domain"
)

// SupplierFrameworkFilters narrows a supplier listing on a framework.
type SupplierFrameworkFilters struct {
	OnFramework       *bool
	AgreementReturned *bool
	WithDeclarations  bool
	AgreementStatus   string
}

// ServiceFilters narrows a service listing.
type ServiceFilters struct {
	FrameworkSlug string
	SupplierID    int
	Status        string
	LotSlug       string
}

// UserFilters narrows a user listing.
type UserFilters struct {
	Role                string
	SupplierID          int
	Active              *bool
	PersonalDataRemoved *bool
}

// AuditFilters narrows an audit event listing.
type AuditFilters struct {
	Type         string
	User         string
	ObjectType   string
	ObjectID     string
	Earliest     *time.Time
	Latest       *time.Time
	Acknowledged *bool
	Sort         string
}

func boolParam(q url.Values, key string, v *bool) {
	if v != nil {
		q.Set(key, strconv.FormatBool(*v))
	}
}

// GetFramework fetches one framework by slug. A missing framework is a
// fatal operator error, so 404 surfaces as *Error.
func (c *Client) GetFramework(ctx context.Context, slug string) (*domain.Framework, error) {
	var resp struct {
		Framework domain.Framework `json:"frameworks"`
	}
	if err := c.do(ctx, http.MethodGet, "/frameworks/"+url.PathEscape(slug), nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Framework.Validate(); err != nil {
		return nil, err
	}
	return &resp.Framework, nil
}

// FindFrameworks lazily pages every framework.
func (c *Client) FindFrameworks(ctx context.Context) iter.Seq2[domain.Framework, error] {
	return listPages[domain.Framework](c, ctx, "/frameworks", "frameworks", nil)
}

// UpdateFramework applies a patch, attributed to actor.
func (c *Client) UpdateFramework(ctx context.Context, slug string, patch domain.FrameworkPatch, actor string) error {
	body := map[string]any{"frameworks": patch, "updated_by": actor}
	return c.do(ctx, http.MethodPost, "/frameworks/"+url.PathEscape(slug), nil, body, nil)
}

// FindSuppliersOnFramework lazily pages every SupplierFramework on the
// given framework. The sequence restarts from the first page on each range.
func (c *Client) FindSuppliersOnFramework(ctx context.Context, slug string, f SupplierFrameworkFilters) iter.Seq2[domain.SupplierFramework, error] {
	q := url.Values{}
	boolParam(q, "on_framework", f.OnFramework)
	boolParam(q, "agreement_returned", f.AgreementReturned)
	if f.WithDeclarations {
		q.Set("with_declarations", "true")
	}
	if f.AgreementStatus != "" {
		q.Set("agreement_status", f.AgreementStatus)
	}
	endpoint := fmt.Sprintf("/frameworks/%s/suppliers", url.PathEscape(slug))
	return listPages[domain.SupplierFramework](c, ctx, endpoint, "supplierFrameworks", q)
}

// GetSupplierFramework fetches one join record. Returns nil without error
// when the supplier never registered interest (optional lookup).
func (c *Client) GetSupplierFramework(ctx context.Context, supplierID int, slug string) (*domain.SupplierFramework, error) {
	var resp struct {
		SupplierFramework domain.SupplierFramework `json:"supplierFrameworks"`
	}
	endpoint := fmt.Sprintf("/suppliers/%d/frameworks/%s", supplierID, url.PathEscape(slug))
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp.SupplierFramework, nil
}

// SetFrameworkResult records the adjudication outcome for one supplier.
func (c *Client) SetFrameworkResult(ctx context.Context, supplierID int, slug string, onFramework bool, actor string) error {
	endpoint := fmt.Sprintf("/suppliers/%d/frameworks/%s", supplierID, url.PathEscape(slug))
	body := map[string]any{
		"frameworkInterest": map[string]any{"onFramework": onFramework},
		"updated_by":        actor,
	}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// UpdateSupplierFramework applies a patch to the join record.
func (c *Client) UpdateSupplierFramework(ctx context.Context, supplierID int, slug string, patch domain.SupplierFrameworkPatch, actor string) error {
	endpoint := fmt.Sprintf("/suppliers/%d/frameworks/%s", supplierID, url.PathEscape(slug))
	body := map[string]any{"frameworkInterest": patch, "updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// RemoveDeclaration deletes the declaration document from a join record.
// Idempotent: removing an absent declaration succeeds.
func (c *Client) RemoveDeclaration(ctx context.Context, supplierID int, slug, actor string) error {
	endpoint := fmt.Sprintf("/suppliers/%d/frameworks/%s/declaration", supplierID, url.PathEscape(slug))
	body := map[string]any{"updated_by": actor}
	err := c.do(ctx, http.MethodDelete, endpoint, nil, body, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// FindDraftServices lazily pages a supplier's drafts on a framework.
func (c *Client) FindDraftServices(ctx context.Context, supplierID int, slug string) iter.Seq2[domain.DraftService, error] {
	q := url.Values{}
	q.Set("supplier_id", strconv.Itoa(supplierID))
	if slug != "" {
		q.Set("framework", slug)
	}
	return listPages[domain.DraftService](c, ctx, "/draft-services", "services", q)
}

// PublishDraftService transitions a submitted draft to a live service and
// returns the new service id (a separate id namespace).
func (c *Client) PublishDraftService(ctx context.Context, draftID int, actor string) (string, error) {
	var resp struct {
		Service struct {
			ID string `json:"id"`
		} `json:"services"`
	}
	endpoint := fmt.Sprintf("/draft-services/%d/publish", draftID)
	body := map[string]any{"updated_by": actor}
	if err := c.do(ctx, http.MethodPost, endpoint, nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Service.ID, nil
}

// FindServices lazily pages services matching the filters.
func (c *Client) FindServices(ctx context.Context, f ServiceFilters) iter.Seq2[domain.Service, error] {
	q := url.Values{}
	if f.FrameworkSlug != "" {
		q.Set("framework", f.FrameworkSlug)
	}
	if f.SupplierID != 0 {
		q.Set("supplier_id", strconv.Itoa(f.SupplierID))
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.LotSlug != "" {
		q.Set("lot", f.LotSlug)
	}
	return listPages[domain.Service](c, ctx, "/services", "services", q)
}

// GetService fetches one service. 404 returns nil (optional lookup).
func (c *Client) GetService(ctx context.Context, id string) (*domain.Service, error) {
	var resp struct {
		Service domain.Service `json:"services"`
	}
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id), nil, nil, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp.Service, nil
}

// UpdateService patches arbitrary service attributes, e.g. rewritten
// document URLs after publication.
func (c *Client) UpdateService(ctx context.Context, id string, attributes map[string]any, actor string) error {
	body := map[string]any{"services": attributes, "updated_by": actor}
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id), nil, body, nil)
}

// UpdateServiceStatus moves a service between published/disabled/enabled/
// removed, attributed to actor. The attribution matters: the unsuspension
// pass keys reversibility on the audit user string.
func (c *Client) UpdateServiceStatus(ctx context.Context, id, newStatus, actor string) error {
	endpoint := fmt.Sprintf("/services/%s/status/%s", url.PathEscape(id), url.PathEscape(newStatus))
	body := map[string]any{"updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// FindUsers lazily pages users matching the filters.
func (c *Client) FindUsers(ctx context.Context, f UserFilters) iter.Seq2[domain.User, error] {
	q := url.Values{}
	if f.Role != "" {
		q.Set("role", f.Role)
	}
	if f.SupplierID != 0 {
		q.Set("supplier_id", strconv.Itoa(f.SupplierID))
	}
	boolParam(q, "active", f.Active)
	boolParam(q, "personal_data_removed", f.PersonalDataRemoved)
	return listPages[domain.User](c, ctx, "/users", "users", q)
}

// RemoveUserPersonalData blanks a user's identifying fields server-side.
func (c *Client) RemoveUserPersonalData(ctx context.Context, userID int, actor string) error {
	endpoint := fmt.Sprintf("/users/%d/remove-personal-data", userID)
	body := map[string]any{"updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// GetSupplier fetches one supplier; a missing supplier surfaces as *Error
// because every caller treats it as fatal.
func (c *Client) GetSupplier(ctx context.Context, id int) (*domain.Supplier, error) {
	var resp struct {
		Supplier domain.Supplier `json:"suppliers"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/suppliers/%d", id), nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.Supplier.Validate(); err != nil {
		return nil, err
	}
	return &resp.Supplier, nil
}

// FindSuppliers lazily pages every supplier.
func (c *Client) FindSuppliers(ctx context.Context) iter.Seq2[domain.Supplier, error] {
	return listPages[domain.Supplier](c, ctx, "/suppliers", "suppliers", nil)
}

// UpdateSupplier applies a patch. A DUNS uniqueness violation comes back
// as 409 and is never retried.
func (c *Client) UpdateSupplier(ctx context.Context, id int, patch domain.SupplierPatch, actor string) error {
	body := map[string]any{"suppliers": patch, "updated_by": actor}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/suppliers/%d", id), nil, body, nil)
}

// SupplierWithDUNS resolves a DUNS number to a supplier, or nil when the
// number is unclaimed. Used to check swap placeholders are free.
func (c *Client) SupplierWithDUNS(ctx context.Context, duns string) (*domain.Supplier, error) {
	var resp struct {
		Suppliers []domain.Supplier `json:"suppliers"`
	}
	q := url.Values{}
	q.Set("duns_number", duns)
	if err := c.do(ctx, http.MethodGet, "/suppliers", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Suppliers) == 0 {
		return nil, nil
	}
	return &resp.Suppliers[0], nil
}

// RemoveContactInformationPersonalData scrubs one contact record.
func (c *Client) RemoveContactInformationPersonalData(ctx context.Context, supplierID, contactID int, actor string) error {
	endpoint := fmt.Sprintf("/suppliers/%d/contact-information/%d/remove-personal-data", supplierID, contactID)
	body := map[string]any{"updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// FindAuditEvents lazily pages audit events matching the filters, newest
// first unless Sort overrides.
func (c *Client) FindAuditEvents(ctx context.Context, f AuditFilters) iter.Seq2[domain.AuditEvent, error] {
	q := url.Values{}
	if f.Type != "" {
		q.Set("audit-type", f.Type)
	}
	if f.User != "" {
		q.Set("user", f.User)
	}
	if f.ObjectType != "" {
		q.Set("object-type", f.ObjectType)
	}
	if f.ObjectID != "" {
		q.Set("object-id", f.ObjectID)
	}
	if f.Earliest != nil {
		q.Set("earliest_for_each_object", "false")
		q.Set("from", f.Earliest.UTC().Format(time.RFC3339))
	}
	if f.Latest != nil {
		q.Set("to", f.Latest.UTC().Format(time.RFC3339))
	}
	boolParam(q, "acknowledged", f.Acknowledged)
	if f.Sort != "" {
		q.Set("sort_by", f.Sort)
	} else {
		q.Set("latest_first", "true")
	}
	return listPages[domain.AuditEvent](c, ctx, "/audit-events", "auditEvents", q)
}

// CreateAuditEvent records provenance for a change made outside the
// standard entity endpoints.
func (c *Client) CreateAuditEvent(ctx context.Context, eventType, user string, data map[string]any, objectType, objectID string) error {
	body := map[string]any{
		"auditEvents": map[string]any{
			"type":       eventType,
			"user":       user,
			"data":       data,
			"objectType": objectType,
			"objectId":   objectID,
		},
	}
	return c.do(ctx, http.MethodPost, "/audit-events", nil, body, nil)
}

// AcknowledgeAuditEvent marks an event processed.
func (c *Client) AcknowledgeAuditEvent(ctx context.Context, id int, actor string) error {
	endpoint := fmt.Sprintf("/audit-events/%d/acknowledge", id)
	body := map[string]any{"updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// GetAgreement fetches one framework agreement. 404 returns nil.
func (c *Client) GetAgreement(ctx context.Context, id int) (*domain.FrameworkAgreement, error) {
	var resp struct {
		Agreement domain.FrameworkAgreement `json:"agreements"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/agreements/%d", id), nil, nil, &resp)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := resp.Agreement.Validate(); err != nil {
		return nil, err
	}
	return &resp.Agreement, nil
}

// UpdateAgreement applies an agreement patch, attributed to actor.
func (c *Client) UpdateAgreement(ctx context.Context, id int, patch map[string]any, actor string) error {
	body := map[string]any{"agreements": patch, "updated_by": actor}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/agreements/%d", id), nil, body, nil)
}

// ApproveAgreement moves a signed agreement to approved for countersigning.
func (c *Client) ApproveAgreement(ctx context.Context, id int, actor string) error {
	endpoint := fmt.Sprintf("/agreements/%d/approve", id)
	body := map[string]any{"updated_by": actor}
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}
