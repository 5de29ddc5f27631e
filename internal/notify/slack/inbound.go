package slack

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	signatureHeader = "X-Slack-Signature"
	timestampHeader = "X-Slack-Request-Timestamp"
	signatureScheme = "v0"
	maxClockSkew    = 5 * time.Minute
	maxInboundBody  = 1 << 20
)

// Signature computes the v0 request signature for body sent at timestamp.
func Signature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureScheme + ":" + timestamp + ":"))
	_, _ = mac.Write(body)
	return signatureScheme + "=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns middleware that admits only requests signed with
// the app's signing secret and sent within five minutes of now. The body is
// restored for the next handler. With an empty secret every request gets 403.
func VerifySignature(secret string, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "slack integration disabled", http.StatusForbidden)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}

			if err := verify(secret, r.Header, body, now()); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func verify(secret string, h http.Header, body []byte, now time.Time) error {
	ts := h.Get(timestampHeader)
	sig := h.Get(signatureHeader)
	if ts == "" || sig == "" {
		return errors.New("missing slack signature")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid slack timestamp")
	}
	if skew := now.Sub(time.Unix(sec, 0)); skew > maxClockSkew || skew < -maxClockSkew {
		return errors.New("stale slack request")
	}
	if !hmac.Equal([]byte(sig), []byte(Signature(secret, ts, body))) {
		return errors.New("invalid slack signature")
	}
	return nil
}

// Interaction is the part of a block_actions payload the vote buttons need.
type Interaction struct {
	Type string `json:"type"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Container struct {
		MessageTS string `json:"message_ts"`
	} `json:"container"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

// ActionID is the id of the first action, or "".
func (i *Interaction) ActionID() string {
	if len(i.Actions) == 0 {
		return ""
	}
	return i.Actions[0].ActionID
}

// ParseInteraction decodes the form-encoded interactivity request.
func ParseInteraction(r *http.Request) (*Interaction, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("slack: parse interaction form: %w", err)
	}
	raw := r.PostForm.Get("payload")
	if raw == "" {
		return nil, errors.New("slack: interaction payload is missing")
	}
	var in Interaction
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("slack: decode interaction: %w", err)
	}
	return &in, nil
}

// Command is a slash command invocation.
type Command struct {
	Command   string
	Text      string
	UserID    string
	ChannelID string
}

// ParseCommand decodes the form-encoded slash command request.
func ParseCommand(r *http.Request) (Command, error) {
	if err := r.ParseForm(); err != nil {
		return Command{}, fmt.Errorf("slack: parse command form: %w", err)
	}
	c := Command{
		Command:   r.PostForm.Get("command"),
		Text:      r.PostForm.Get("text"),
		UserID:    r.PostForm.Get("user_id"),
		ChannelID: r.PostForm.Get("channel_id"),
	}
	if c.UserID == "" {
		return Command{}, errors.New("slack: command user_id is missing")
	}
	return c, nil
}

// EphemeralReply is a slash command response only the invoking user sees.
type EphemeralReply struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Ephemeral builds an EphemeralReply.
func Ephemeral(text string) EphemeralReply {
	return EphemeralReply{ResponseType: "ephemeral", Text: text}
}
