// Package webhook verifies and maps inbound GitHub webhook deliveries.
package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
)

// ErrIgnored marks deliveries that are authentic but carry nothing to
// analyze (pings, branch deletions, unsupported event kinds).
var ErrIgnored = errors.New("webhook: nothing to enqueue for this event")

// zeroSHA is what push events carry in "after" when a ref is deleted.
const zeroSHA = "0000000000000000000000000000000000000000"

// Event is the commit coordinate extracted from a delivery.
type Event struct {
	Owner     string
	Repo      string
	Ref       string
	CommitSHA string
	Kind      string
}

// Verify checks the HMAC signature header against the raw request body.
// A missing signature or secret is an authentication failure, never a
// retryable condition. The comparison inside ValidateSignature is
// constant-time.
func Verify(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook: no shared secret configured")
	}
	if signature == "" {
		return fmt.Errorf("webhook: missing signature header")
	}
	if err := github.ValidateSignature(signature, body, []byte(secret)); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Parse maps a verified delivery to an Event. eventType is the value of
// the X-GitHub-Event header.
func Parse(eventType string, body []byte) (*Event, error) {
	payload, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse %s payload: %w", eventType, err)
	}

	switch e := payload.(type) {
	case *github.PushEvent:
		ev := &Event{
			Owner:     e.GetRepo().GetOwner().GetLogin(),
			Repo:      e.GetRepo().GetName(),
			Ref:       e.GetRef(),
			CommitSHA: e.GetAfter(),
			Kind:      "push",
		}
		if ev.CommitSHA == "" || ev.CommitSHA == zeroSHA {
			return nil, fmt.Errorf("%w: ref %s deleted or empty", ErrIgnored, ev.Ref)
		}
		if ev.Owner == "" || ev.Repo == "" {
			return nil, fmt.Errorf("webhook: push payload missing repository coordinates")
		}
		return ev, nil
	case *github.PingEvent:
		return nil, fmt.Errorf("%w: ping", ErrIgnored)
	default:
		return nil, fmt.Errorf("%w: event type %q", ErrIgnored, eventType)
	}
}

// SignatureHeader picks the strongest signature header present on a
// delivery, preferring SHA-256 over the legacy SHA-1.
func SignatureHeader(get func(string) string) string {
	if sig := get(github.SHA256SignatureHeader); sig != "" {
		return sig
	}
	return get(github.SHA1SignatureHeader)
}

// ShortSHA abbreviates a commit SHA for log lines.
func ShortSHA(sha string) string {
	if len(sha) <= 12 {
		return sha
	}
	return sha[:12]
}

// DeliveryID extracts the GitHub delivery ID header value.
func DeliveryID(get func(string) string) string {
	return strings.TrimSpace(get(github.DeliveryIDHeader))
}
