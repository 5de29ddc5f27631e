// Package slack posts and maintains downtime incident messages in a Slack
// channel through the Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/downtime/internal/incident"
)

const (
	defaultBaseURL = "https://slack.com/api"
	httpTimeout    = 10 * time.Second
	maxTextLen     = 3000
)

// Config holds Slack settings.
type Config struct {
	// Token is the bot token (xoxb-...).
	Token string

	// ChannelID is the channel incident messages are posted to.
	ChannelID string

	// BaseURL overrides the Web API endpoint. Tests only.
	BaseURL string
}

// Notifier implements incident.Notifier on the Slack Web API. Message ids are
// Slack message timestamps in the configured channel.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

// New creates a Slack notifier.
func New(cfg Config, logger log.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("slack: bot token is required")
	}
	if cfg.ChannelID == "" {
		return nil, errors.New("slack: channel id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}, nil
}

// apiResponse is the envelope every Web API method returns.
type apiResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	TS        string `json:"ts"`
	Channel   string `json:"channel"`
	Permalink string `json:"permalink"`
}

// PostIncident posts msg to the channel and returns its timestamp and permalink.
func (n *Notifier) PostIncident(ctx context.Context, msg incident.Message) (incident.Reference, error) {
	payload := buildMessage(msg)
	payload["channel"] = n.cfg.ChannelID

	resp, err := n.post(ctx, "chat.postMessage", payload)
	if err != nil {
		return incident.Reference{}, err
	}

	ref := incident.Reference{MessageID: resp.TS}
	link, err := n.permalink(ctx, resp.TS)
	if err != nil {
		n.logger.Warn(ctx, "failed to fetch slack permalink, using archive link", "ts", resp.TS, "err", err)
		link = archiveLink(n.cfg.ChannelID, resp.TS)
	}
	ref.Link = link
	return ref, nil
}

// EditMessage replaces the message content.
func (n *Notifier) EditMessage(ctx context.Context, ref incident.Reference, msg incident.Message) error {
	payload := buildMessage(msg)
	payload["channel"] = n.cfg.ChannelID
	payload["ts"] = ref.MessageID
	_, err := n.post(ctx, "chat.update", payload)
	return err
}

// DeleteMessage deletes the message.
func (n *Notifier) DeleteMessage(ctx context.Context, ref incident.Reference) error {
	_, err := n.post(ctx, "chat.delete", map[string]any{
		"channel": n.cfg.ChannelID,
		"ts":      ref.MessageID,
	})
	return err
}

// OpenThread starts a discussion thread under the message.
func (n *Notifier) OpenThread(ctx context.Context, ref incident.Reference, title string) error {
	_, err := n.post(ctx, "chat.postMessage", map[string]any{
		"channel":   n.cfg.ChannelID,
		"thread_ts": ref.MessageID,
		"text":      fmt.Sprintf(":speech_balloon: *%s*\nDiscuss the outage here.", title),
	})
	return err
}

func (n *Notifier) permalink(ctx context.Context, ts string) (string, error) {
	q := url.Values{}
	q.Set("channel", n.cfg.ChannelID)
	q.Set("message_ts", ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.BaseURL+"/chat.getPermalink?"+q.Encode(), http.NoBody)
	if err != nil {
		return "", fmt.Errorf("slack: create request: %w", err)
	}
	resp, err := n.do(req, "chat.getPermalink")
	if err != nil {
		return "", err
	}
	return resp.Permalink, nil
}

func (n *Notifier) post(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return n.do(req, method)
}

func (n *Notifier) do(req *http.Request, method string) (*apiResponse, error) {
	req.Header.Set("Authorization", "Bearer "+n.cfg.Token)

	resp, err := n.client.Do(req) //nolint:gosec // G704: base URL is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("slack: %s returned %d: %s", method, resp.StatusCode, string(respBody))
	}

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("slack: %s: %s", method, out.Error)
	}
	return &out, nil
}

// archiveLink builds the channel archive URL for a message timestamp.
func archiveLink(channel, ts string) string {
	return fmt.Sprintf("https://slack.com/archives/%s/p%s", channel, strings.ReplaceAll(ts, ".", ""))
}

func buildMessage(msg incident.Message) map[string]any {
	blocks := []map[string]any{headerBlock(msg)}
	if msg.Status != "" {
		blocks = append(blocks, fieldsBlock(msg))
	}
	if msg.Note != "" {
		blocks = append(blocks, noteBlock(msg))
	}
	if len(msg.Options) > 0 {
		blocks = append(blocks, promptBlock(), actionsBlock(msg.Options))
	}
	blocks = append(blocks, contextBlock(msg))

	return map[string]any{
		"text":   fallbackText(msg),
		"blocks": blocks,
	}
}

func headerBlock(msg incident.Message) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", statusEmoji(msg.Status), msg.Title),
		},
	}
}

func fieldsBlock(msg incident.Message) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Initial reporter:* <@%s>", msg.InitialReporter),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", msg.Status.Describe()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reporters:* %d", msg.Reporters),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Score:* %d", msg.Score),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func noteBlock(msg incident.Message) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(msg.Note, maxTextLen),
		},
	}
}

func promptBlock() map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Are you having issues? What's broken?*",
		},
	}
}

func actionsBlock(options []incident.VoteKind) map[string]any {
	elements := make([]map[string]any, 0, len(options))
	for _, k := range options {
		elements = append(elements, map[string]any{
			"type":      "button",
			"action_id": k.OptionID(),
			"value":     k.OptionID(),
			"text": map[string]any{
				"type": "plain_text",
				"text": k.Label(),
			},
		})
	}
	return map[string]any{
		"type":     "actions",
		"block_id": "downtime_vote",
		"elements": elements,
	}
}

func contextBlock(msg incident.Message) map[string]any {
	text := "downtime"
	if msg.Status != "" {
		text = fmt.Sprintf("downtime • %s", msg.Status)
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func fallbackText(msg incident.Message) string {
	if msg.Status == "" {
		return msg.Title
	}
	return fmt.Sprintf("%s: %s", msg.Title, msg.Status.Describe())
}

func statusEmoji(s incident.Status) string {
	switch s {
	case incident.StatusSendingAlert, incident.StatusAlertSent:
		return "\U0001f534" // red circle
	case incident.StatusAlertAcknowledged:
		return "\U0001f7e0" // orange circle
	case incident.StatusWaitingForInput:
		return "\U0001f7e1" // yellow circle
	case incident.StatusResolved:
		return "\U0001f7e2" // green circle
	default:
		return "\u26aa" // white circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
