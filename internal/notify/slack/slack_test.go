package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/downtime/internal/incident"
)

// fakeSlack records Web API calls and answers them from handlers keyed by
// method name.
type fakeSlack struct {
	t *testing.T

	mu       sync.Mutex
	calls    []string
	payloads map[string][]map[string]any
	replies  map[string]func(w http.ResponseWriter)
}

func newFakeSlack(t *testing.T) (*fakeSlack, *httptest.Server) {
	t.Helper()
	f := &fakeSlack{
		t:        t,
		payloads: make(map[string][]map[string]any),
		replies:  make(map[string]func(w http.ResponseWriter)),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSlack) serve(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/")
	if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
		f.t.Errorf("%s: Authorization = %q, want Bearer xoxb-test", method, got)
	}

	payload := map[string]any{}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			f.t.Errorf("%s: decode body: %v", method, err)
		}
	} else {
		for k, v := range r.URL.Query() {
			payload[k] = v[0]
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.payloads[method] = append(f.payloads[method], payload)
	reply := f.replies[method]
	f.mu.Unlock()

	if reply != nil {
		reply(w)
		return
	}
	switch method {
	case "chat.postMessage":
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	case "chat.getPermalink":
		_, _ = w.Write([]byte(`{"ok":true,"permalink":"https://team.slack.com/archives/C123/p1700000000000100"}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (f *fakeSlack) payload(method string, i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[method][i]
}

func (f *fakeSlack) reply(method string, fn func(w http.ResponseWriter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = fn
}

func newTestNotifier(t *testing.T, srv *httptest.Server) *Notifier {
	t.Helper()
	n, err := New(Config{Token: "xoxb-test", ChannelID: "C123", BaseURL: srv.URL}, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func liveMessage() incident.Message {
	return incident.Message{
		Title:           "Downtime Reported",
		InitialReporter: "U42",
		Status:          incident.StatusWaitingForInput,
		Reporters:       3,
		Score:           33,
		Options:         incident.VoteKinds(),
	}
}

func TestNew_RequiresTokenAndChannel(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{ChannelID: "C1"}, nil); err == nil {
		t.Error("expected error without token")
	}
	if _, err := New(Config{Token: "xoxb"}, nil); err == nil {
		t.Error("expected error without channel")
	}
}

func TestPostIncident(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	n := newTestNotifier(t, srv)

	ref, err := n.PostIncident(context.Background(), liveMessage())
	if err != nil {
		t.Fatalf("PostIncident: %v", err)
	}
	if ref.MessageID != "1700000000.000100" {
		t.Errorf("MessageID = %q, want 1700000000.000100", ref.MessageID)
	}
	if ref.Link != "https://team.slack.com/archives/C123/p1700000000000100" {
		t.Errorf("Link = %q", ref.Link)
	}

	post := f.payload("chat.postMessage", 0)
	if post["channel"] != "C123" {
		t.Errorf("channel = %v, want C123", post["channel"])
	}
	blocks, ok := post["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, fields, prompt, actions, context
	if len(blocks) != 5 {
		t.Fatalf("blocks count = %d, want 5", len(blocks))
	}

	actions := blocks[3].(map[string]any)
	elements := actions["elements"].([]any)
	if len(elements) != 4 {
		t.Fatalf("buttons = %d, want 4", len(elements))
	}
	first := elements[0].(map[string]any)
	if first["action_id"] != "not-sure" {
		t.Errorf("first button action_id = %v, want not-sure", first["action_id"])
	}

	link := f.payload("chat.getPermalink", 0)
	if link["message_ts"] != "1700000000.000100" {
		t.Errorf("permalink message_ts = %v", link["message_ts"])
	}
}

func TestPostIncident_PermalinkFallback(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	f.reply("chat.getPermalink", func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"missing_scope"}`))
	})
	n := newTestNotifier(t, srv)

	ref, err := n.PostIncident(context.Background(), liveMessage())
	if err != nil {
		t.Fatalf("PostIncident: %v", err)
	}
	want := "https://slack.com/archives/C123/p1700000000000100"
	if ref.Link != want {
		t.Errorf("Link = %q, want %q", ref.Link, want)
	}
}

func TestPostIncident_APIError(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	f.reply("chat.postMessage", func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})
	n := newTestNotifier(t, srv)

	_, err := n.PostIncident(context.Background(), liveMessage())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("error = %q, want to contain channel_not_found", err.Error())
	}
}

func TestPostIncident_NonOKStatus(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	f.reply("chat.postMessage", func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	})
	n := newTestNotifier(t, srv)

	_, err := n.PostIncident(context.Background(), liveMessage())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestEditMessage_WithoutOptions(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	n := newTestNotifier(t, srv)

	ref := incident.Reference{MessageID: "1700000000.000100"}
	msg := incident.Message{Title: "Downtime Report Closed", Note: "This report is no longer active."}
	if err := n.EditMessage(context.Background(), ref, msg); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}

	update := f.payload("chat.update", 0)
	if update["ts"] != ref.MessageID {
		t.Errorf("ts = %v, want %s", update["ts"], ref.MessageID)
	}
	for _, b := range update["blocks"].([]any) {
		if b.(map[string]any)["type"] == "actions" {
			t.Error("closed message must not carry buttons")
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	n := newTestNotifier(t, srv)

	if err := n.DeleteMessage(context.Background(), incident.Reference{MessageID: "1.2"}); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	del := f.payload("chat.delete", 0)
	if del["channel"] != "C123" || del["ts"] != "1.2" {
		t.Errorf("chat.delete payload = %v", del)
	}
}

func TestOpenThread(t *testing.T) {
	t.Parallel()

	f, srv := newFakeSlack(t)
	n := newTestNotifier(t, srv)

	if err := n.OpenThread(context.Background(), incident.Reference{MessageID: "1.2"}, "Downtime Discussion"); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	post := f.payload("chat.postMessage", 0)
	if post["thread_ts"] != "1.2" {
		t.Errorf("thread_ts = %v, want 1.2", post["thread_ts"])
	}
	if !strings.Contains(post["text"].(string), "Downtime Discussion") {
		t.Errorf("text = %v", post["text"])
	}
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status incident.Status
		want   string
	}{
		{incident.StatusSendingAlert, "\U0001f534"},
		{incident.StatusAlertSent, "\U0001f534"},
		{incident.StatusAlertAcknowledged, "\U0001f7e0"},
		{incident.StatusWaitingForInput, "\U0001f7e1"},
		{incident.StatusResolved, "\U0001f7e2"},
		{"", "⚪"},
	}

	for _, tt := range tests {
		if got := statusEmoji(tt.status); got != tt.want {
			t.Errorf("statusEmoji(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Downtime Reported", "U42", "waiting_for_input", "", true)
	f.Add("", "", "", "", false)
	f.Add("<@U123> mention", "*bold*", "resolved", "Marked resolved by ops.", false)
	f.Add("title\x00\x01", "rep\nline", "bogus", strings.Repeat("x", 10000), true)

	f.Fuzz(func(t *testing.T, title, reporter, status, note string, options bool) {
		msg := incident.Message{
			Title:           title,
			InitialReporter: reporter,
			Status:          incident.Status(status),
			Note:            note,
		}
		if options {
			msg.Options = incident.VoteKinds()
		}

		data, err := json.Marshal(buildMessage(msg))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if _, ok := decoded["blocks"].([]any); !ok {
			t.Fatal("expected blocks array")
		}
	})
}
