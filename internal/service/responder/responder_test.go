package responder

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockClient struct {
	reply string
	err   error
	calls int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func TestReplyFAQMatch(t *testing.T) {
	client := &mockClient{reply: "should not be used"}
	r := New(client)

	reply, escalate := r.Reply(context.Background(), "What are your hours?")
	if escalate {
		t.Fatalf("FAQ match must not escalate")
	}
	if reply != "Our support is available 9am–5pm Monday–Friday." {
		t.Fatalf("unexpected FAQ reply: %q", reply)
	}
	if client.calls != 0 {
		t.Fatalf("completion client called on FAQ match")
	}
}

func TestReplyFAQCaseInsensitive(t *testing.T) {
	r := New(&mockClient{})
	reply, escalate := r.Reply(context.Background(), "Tell me about PRICING please")
	if escalate || !strings.Contains(reply, "$50/month") {
		t.Fatalf("case-insensitive FAQ match failed: %q escalate=%v", reply, escalate)
	}
}

func TestReplyFAQPriorityOrder(t *testing.T) {
	r := New(&mockClient{})
	// Both "hours" and "pricing" occur; "hours" sits earlier in the table.
	reply, _ := r.Reply(context.Background(), "what are your hours and pricing?")
	if !strings.Contains(reply, "9am–5pm") {
		t.Fatalf("expected the hours answer to win, got %q", reply)
	}
}

func TestReplyFAQBeatsEscalation(t *testing.T) {
	r := New(&mockClient{})
	reply, escalate := r.Reply(context.Background(), "I need help with pricing")
	if escalate {
		t.Fatalf("FAQ keyword must take priority over the help trigger")
	}
	if !strings.Contains(reply, "$50/month") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestReplyEscalation(t *testing.T) {
	client := &mockClient{reply: "should not be used"}
	r := New(client)

	for _, text := range []string{"I need HELP with my order", "get me a human"} {
		reply, escalate := r.Reply(context.Background(), text)
		if !escalate {
			t.Fatalf("expected escalation for %q", text)
		}
		if reply != EscalationReply {
			t.Fatalf("unexpected escalation reply: %q", reply)
		}
	}
	if client.calls != 0 {
		t.Fatalf("completion client called on escalation")
	}
}

func TestReplyFallsBackToCompletion(t *testing.T) {
	client := &mockClient{reply: "Here is a joke."}
	r := New(client)

	reply, escalate := r.Reply(context.Background(), "tell me a joke")
	if escalate {
		t.Fatalf("fallback must not escalate")
	}
	if reply != "Here is a joke." {
		t.Fatalf("unexpected fallback reply: %q", reply)
	}
	if client.calls != 1 {
		t.Fatalf("expected one completion call, got %d", client.calls)
	}
}

func TestReplyCompletionFailureIsInBand(t *testing.T) {
	client := &mockClient{err: errors.New("upstream exploded")}
	r := New(client)

	reply, escalate := r.Reply(context.Background(), "tell me a joke")
	if escalate {
		t.Fatalf("failed fallback must not escalate")
	}
	if !strings.HasPrefix(reply, "[Error] ") || !strings.Contains(reply, "upstream exploded") {
		t.Fatalf("expected in-band error reply, got %q", reply)
	}
}
