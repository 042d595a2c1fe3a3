package notify

import (
	"fmt"

	"github.com/mkessler/dossier/internal/models"
	slackapi "github.com/slack-go/slack"
)

// postWebhookFn abstracts slack webhook posting, enabling test mocks.
type postWebhookFn func(url string, msg *slackapi.WebhookMessage) error

// Slack posts run outcomes to an incoming-webhook URL.
type Slack struct {
	webhookURL string
	post       postWebhookFn
}

// NewSlack creates a Slack notifier for the given incoming-webhook URL.
func NewSlack(webhookURL string) (*Slack, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("notify: slack webhook URL is required")
	}
	return &Slack{webhookURL: webhookURL, post: slackapi.PostWebhook}, nil
}

// RunFinished implements Notifier.
func (s *Slack) RunFinished(run *models.Run) error {
	color := "good"
	if run.Status == models.RunFailed {
		color = "danger"
	}
	msg := &slackapi.WebhookMessage{
		Text: headline(run),
		Attachments: []slackapi.Attachment{{
			Color: color,
			Fields: []slackapi.AttachmentField{
				{Title: "Run", Value: run.ID, Short: true},
				{Title: "Ref", Value: run.Ref, Short: true},
			},
		}},
	}
	if err := s.post(s.webhookURL, msg); err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
