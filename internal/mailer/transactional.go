package mailer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"dmlifecycle/internal/api"
)

// TemplateError means the template and personalisation disagree on shape.
// That is operator misconfiguration, not a recipient-specific failure, so
// dispatch runs abort on it.
type TemplateError struct {
	TemplateID string
	Detail     string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %s", e.TemplateID, e.Detail)
}

// Transactional is the templated-email provider client. Sends are keyed by
// a deterministic reference so re-runs can ask the provider's durable view
// instead of trusting in-memory state.
type Transactional struct {
	client *api.Client
}

// NewTransactional creates the client.
func NewTransactional(baseURL, apiKey string) *Transactional {
	return &Transactional{client: api.New(baseURL, apiKey)}
}

// Reference derives the deterministic send reference from the recipient,
// template, and canonicalised context. Identical inputs always hash to the
// same reference across processes and re-runs.
func Reference(email, templateID string, context map[string]any) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(email)))
	h.Write([]byte{0})
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write(canonicalJSON(context))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders a context map with sorted keys so the hash is
// stable regardless of map iteration order.
func canonicalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')
		vb, _ := json.Marshal(m[k])
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// SendRequest is one templated email.
type SendRequest struct {
	Recipient       string
	TemplateID      string
	Personalisation map[string]any
	Reference       string
	AllowResend     bool
}

// Send delivers one templated email. A shape mismatch between template and
// personalisation surfaces as *TemplateError.
func (t *Transactional) Send(ctx context.Context, req SendRequest) error {
	body := map[string]any{
		"email_address":   req.Recipient,
		"template_id":     req.TemplateID,
		"personalisation": req.Personalisation,
		"reference":       req.Reference,
	}
	err := t.client.Do(ctx, http.MethodPost, "/v2/notifications/email", nil, body, nil)
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(apiErr.Body, "personalisation") {
		return &TemplateError{TemplateID: req.TemplateID, Detail: apiErr.Body}
	}
	return err
}

// HasBeenSent asks the provider whether a message with this reference has
// already been delivered or accepted.
func (t *Transactional) HasBeenSent(ctx context.Context, reference string) (bool, error) {
	var resp struct {
		Notifications []struct {
			Status string `json:"status"`
		} `json:"notifications"`
	}
	q := url.Values{}
	q.Set("reference", reference)
	if err := t.client.Do(ctx, http.MethodGet, "/v2/notifications", q, nil, &resp); err != nil {
		return false, err
	}
	for _, n := range resp.Notifications {
		// Anything other than a hard failure counts as sent; retrying a
		// temporarily-failed message is the provider's job, not ours.
		if n.Status != "permanent-failure" {
			return true, nil
		}
	}
	return false, nil
}
