package responder

import (
	"context"
	"fmt"
	"strings"
)

// CompletionClient is the external text-completion dependency. The concrete
// implementation lives in internal/ai; tests substitute a mock.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// EscalationReply is the fixed acknowledgment for a human-escalation request.
const EscalationReply = "An admin will contact you soon!"

type faqEntry struct {
	keyword string
	answer  string
}

// faqEntries is scanned in slice order and the first keyword contained in the
// message wins. The order below is the documented priority when several
// keywords co-occur in one message.
var faqEntries = []faqEntry{
	{"hours", "Our support is available 9am–5pm Monday–Friday."},
	{"pricing", "Pricing starts at $50/month for the basic plan."},
	{"signup", "You can sign up using the registration form on the home page."},
	{"features", "Our chatbot can answer FAQs and allow you to request a human admin."},
	{"contact", "You can contact support via email: support@example.com."},
}

// Responder decides the reply to a user message: FAQ lookup first, then the
// human-escalation trigger, then the external completion fallback.
type Responder struct {
	client CompletionClient
}

// New builds a Responder around the given completion client.
func New(client CompletionClient) *Responder {
	return &Responder{client: client}
}

// Reply returns the bot reply and whether the message requests a human.
// A completion failure is converted into an in-band error reply so a
// downstream outage never fails the chat request itself.
func (r *Responder) Reply(ctx context.Context, text string) (string, bool) {
	lowered := strings.ToLower(text)

	for _, entry := range faqEntries {
		if strings.Contains(lowered, entry.keyword) {
			return entry.answer, false
		}
	}

	if strings.Contains(lowered, "human") || strings.Contains(lowered, "help") {
		return EscalationReply, true
	}

	reply, err := r.client.Complete(ctx, text)
	if err != nil {
		return fmt.Sprintf("[Error] %v", err), false
	}
	return reply, false
}
