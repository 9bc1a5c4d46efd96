// Package notify sends migration lifecycle notifications to a Slack
// incoming webhook. A disabled or unconfigured notifier is a no-op so
// callers never need to guard their calls.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackConfig configures the webhook destination.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one colored message block.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

// Field is one titled value in an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notifier posts migration events to Slack.
type Notifier struct {
	cfg    *SlackConfig
	client *http.Client
}

// New creates a notifier. A nil config produces a disabled notifier.
func New(cfg *SlackConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether notifications will be sent.
func (n *Notifier) IsEnabled() bool {
	return n.cfg != nil && n.cfg.Enabled && n.cfg.WebhookURL != ""
}

// MigrationStarted announces a new run.
func (n *Notifier) MigrationStarted(runID, source, target string, tableCount int) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":rocket:",
		Attachments: []Attachment{{
			Color: "#439fe0",
			Title: "Migration Started",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
				{Title: "Source", Value: source, Short: true},
				{Title: "Target", Value: target, Short: true},
			},
			Footer: "pgmove",
			Ts:     time.Now().Unix(),
		}},
	})
}

// MigrationCompleted announces a successful run.
func (n *Notifier) MigrationCompleted(runID string, start time.Time, elapsed time.Duration, tables int, rows int64, rowsPerSec float64) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":white_check_mark:",
		Attachments: []Attachment{{
			Color: "#36a64f",
			Title: "Migration Completed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Started", Value: start.UTC().Format(time.RFC3339), Short: true},
				{Title: "Duration", Value: elapsed.Round(time.Second).String(), Short: true},
				{Title: "Tables", Value: fmt.Sprintf("%d", tables), Short: true},
				{Title: "Rows", Value: fmt.Sprintf("%d", rows), Short: true},
				{Title: "Throughput", Value: fmt.Sprintf("%.0f rows/sec", rowsPerSec), Short: true},
			},
			Footer: "pgmove",
			Ts:     time.Now().Unix(),
		}},
	})
}

// MigrationFailed announces a failed run. Long error text is truncated so
// the message stays readable.
func (n *Notifier) MigrationFailed(runID string, runErr error, elapsed time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	errText := "Unknown error"
	if runErr != nil {
		errText = runErr.Error()
		if len(errText) > 500 {
			errText = errText[:500] + "..."
		}
	}
	return n.send(SlackMessage{
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: "#d50200",
			Title: "Migration Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: elapsed.Round(time.Second).String(), Short: true},
				{Title: "Error", Value: errText, Short: false},
			},
			Footer: "pgmove",
			Ts:     time.Now().Unix(),
		}},
	})
}

func (n *Notifier) send(msg SlackMessage) error {
	msg.Channel = n.cfg.Channel
	msg.Username = n.cfg.Username

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}
	resp, err := n.client.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
