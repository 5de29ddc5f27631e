// Package pagerduty pages on-call through the PagerDuty Events API v2.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/downtime/internal/incident"
)

const (
	defaultEndpoint = "https://events.pagerduty.com/v2/enqueue"
	httpTimeout     = 10 * time.Second
	clientName      = "downtime"
)

// EventAction is the Events API event_action.
type EventAction string

const (
	ActionTrigger EventAction = "trigger"
	ActionResolve EventAction = "resolve"
)

// Event is an Events API v2 request body.
type Event struct {
	RoutingKey  string      `json:"routing_key"`
	EventAction EventAction `json:"event_action"`
	DedupKey    string      `json:"dedup_key,omitempty"`
	Payload     *Payload    `json:"payload,omitempty"`
	Client      string      `json:"client,omitempty"`
	ClientURL   string      `json:"client_url,omitempty"`
}

// Payload describes a triggered alert.
type Payload struct {
	Summary   string `json:"summary"`
	Severity  string `json:"severity"`
	Source    string `json:"source"`
	Component string `json:"component,omitempty"`
	Group     string `json:"group,omitempty"`
	Class     string `json:"class,omitempty"`
}

// Response is the Events API reply.
type Response struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	DedupKey string `json:"dedup_key"`
}

// Client sends events for one PagerDuty service integration.
type Client struct {
	routingKey string
	endpoint   string
	client     *http.Client
}

// New creates a client for routingKey. endpoint defaults to the public
// Events API.
func New(routingKey, endpoint string) (*Client, error) {
	if routingKey == "" {
		return nil, errors.New("pagerduty: routing key is required")
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		routingKey: routingKey,
		endpoint:   endpoint,
		client:     &http.Client{Timeout: httpTimeout},
	}, nil
}

// Trigger opens (or updates) the alert for ev.DedupKey.
func (c *Client) Trigger(ctx context.Context, ev incident.EscalationEvent) error {
	_, err := c.Send(ctx, Event{
		EventAction: ActionTrigger,
		DedupKey:    ev.DedupKey,
		Payload: &Payload{
			Summary:   ev.Summary,
			Severity:  string(ev.Severity),
			Source:    ev.Source,
			Component: "website",
			Class:     "downtime-report",
		},
		Client:    clientName,
		ClientURL: ev.Link,
	})
	return err
}

// Resolve resolves the alert for dedupKey.
func (c *Client) Resolve(ctx context.Context, dedupKey string) error {
	_, err := c.Send(ctx, Event{EventAction: ActionResolve, DedupKey: dedupKey})
	return err
}

// Send enqueues ev. The routing key is filled in.
func (c *Client) Send(ctx context.Context, ev Event) (*Response, error) {
	ev.RoutingKey = c.routingKey

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("pagerduty: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pagerduty: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("pagerduty: %s: %w", ev.EventAction, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pagerduty: %s returned %d: %s", ev.EventAction, resp.StatusCode, string(respBody))
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("pagerduty: decode response: %w", err)
	}
	return &out, nil
}
