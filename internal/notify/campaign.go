package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dmlifecycle/internal/mailer"
)

// BulkMailer is the list-provider surface campaign runs use.
type BulkMailer interface {
	CreateCampaign(ctx context.Context, listID, subject, fromName, replyTo string) (mailer.Campaign, error)
	SetContent(ctx context.Context, campaignID, html string) error
	SendCampaign(ctx context.Context, campaignID string) error
}

// CampaignOptions parameterise one bulk campaign against a mailing list.
// Lists are maintained per framework and lot by the list provider; the
// dispatcher only addresses them by id.
type CampaignOptions struct {
	ListID   string
	Subject  string
	FromName string
	ReplyTo  string
	HTML     string
	DryRun   bool
}

// SendCampaign creates, fills, and sends one bulk campaign. The three
// provider calls are sequential; a failure part-way leaves a draft
// campaign behind in the provider, which re-runs do not adopt.
func (d *Dispatcher) SendCampaign(ctx context.Context, bulk BulkMailer, opts CampaignOptions) error {
	if opts.DryRun {
		d.Log.Info("would send campaign",
			zap.String("list_id", opts.ListID),
			zap.String("subject", opts.Subject))
		return nil
	}
	campaign, err := bulk.CreateCampaign(ctx, opts.ListID, opts.Subject, opts.FromName, opts.ReplyTo)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if err := bulk.SetContent(ctx, campaign.ID, opts.HTML); err != nil {
		return fmt.Errorf("set campaign content: %w", err)
	}
	if err := bulk.SendCampaign(ctx, campaign.ID); err != nil {
		return fmt.Errorf("send campaign: %w", err)
	}
	d.Log.Info("campaign sent",
		zap.String("list_id", opts.ListID),
		zap.String("campaign_id", campaign.ID))
	return nil
}
