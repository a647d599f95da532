package mailer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"dmlifecycle/internal/api"
)

// Bulk is the mailing-list provider client used for opportunity digests
// and retention-driven list removal.
type Bulk struct {
	client *api.Client
}

// NewBulk creates the client.
func NewBulk(baseURL, apiKey string) *Bulk {
	return &Bulk{client: api.New(baseURL, apiKey)}
}

// memberHash is the provider's member key: lowercase-email MD5.
func memberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// ListsForEmail returns the ids of every list the address belongs to.
func (b *Bulk) ListsForEmail(ctx context.Context, email string) ([]string, error) {
	var resp struct {
		Lists []struct {
			ID string `json:"id"`
		} `json:"lists"`
	}
	q := url.Values{}
	q.Set("email", strings.ToLower(email))
	if err := b.client.Do(ctx, http.MethodGet, "/3.0/lists", q, nil, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Lists))
	for _, l := range resp.Lists {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

// PermanentlyRemove deletes the address from a list with no resubscribe
// path. Retention requires this to succeed before the API-side scrub runs.
func (b *Bulk) PermanentlyRemove(ctx context.Context, listID, email string) error {
	endpoint := fmt.Sprintf("/3.0/lists/%s/members/%s/actions/delete-permanent",
		url.PathEscape(listID), memberHash(email))
	err := b.client.Do(ctx, http.MethodPost, endpoint, nil, nil, nil)
	if api.IsNotFound(err) {
		return nil
	}
	return err
}

// Subscribe adds an address to a list.
func (b *Bulk) Subscribe(ctx context.Context, listID, email string) error {
	endpoint := fmt.Sprintf("/3.0/lists/%s/members/%s", url.PathEscape(listID), memberHash(email))
	body := map[string]any{"email_address": strings.ToLower(email), "status": "subscribed"}
	return b.client.Do(ctx, http.MethodPut, endpoint, nil, body, nil)
}

// Campaign identifies a created-but-unsent campaign.
type Campaign struct {
	ID string `json:"id"`
}

// CreateCampaign creates a campaign against a list.
func (b *Bulk) CreateCampaign(ctx context.Context, listID, subject, fromName, replyTo string) (Campaign, error) {
	body := map[string]any{
		"type": "regular",
		"recipients": map[string]any{
			"list_id": listID,
		},
		"settings": map[string]any{
			"subject_line": subject,
			"from_name":    fromName,
			"reply_to":     replyTo,
		},
	}
	var c Campaign
	err := b.client.Do(ctx, http.MethodPost, "/3.0/campaigns", nil, body, &c)
	return c, err
}

// SetContent attaches rendered HTML to a campaign.
func (b *Bulk) SetContent(ctx context.Context, campaignID, html string) error {
	endpoint := fmt.Sprintf("/3.0/campaigns/%s/content", url.PathEscape(campaignID))
	return b.client.Do(ctx, http.MethodPut, endpoint, nil, map[string]any{"html": html}, nil)
}

// SendCampaign triggers delivery.
func (b *Bulk) SendCampaign(ctx context.Context, campaignID string) error {
	endpoint := fmt.Sprintf("/3.0/campaigns/%s/actions/send", url.PathEscape(campaignID))
	return b.client.Do(ctx, http.MethodPost, endpoint, nil, nil, nil)
}
