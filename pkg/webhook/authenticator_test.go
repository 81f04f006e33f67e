package webhook

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/certhook/certhook/pkg/config"
)

const testSecret = "not-a-real-secret"

func newTestAuthenticator(verify bool) *Authenticator {
	return NewAuthenticator(config.SecurityConfig{
		VerifySignatures:  verify,
		WebhookSecret:     testSecret,
		AllowedEventTypes: []string{"pull_request", "release"},
	}, zap.NewNop())
}

func validHeaders(body []byte) Headers {
	return Headers{
		UserAgent:  "GitHub-Hookshot/abc123",
		EventType:  "pull_request",
		Signature:  Sign(body, testSecret),
		DeliveryID: "delivery-1",
	}
}

func TestAuthenticateAccepted(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	if err := newTestAuthenticator(true).Authenticate(body, validHeaders(body)); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownSender(t *testing.T) {
	body := []byte(`{}`)
	hdr := validHeaders(body)
	hdr.UserAgent = "curl/8.0"

	err := newTestAuthenticator(true).Authenticate(body, hdr)
	if !errors.Is(err, ErrUnknownSender) {
		t.Fatalf("expected ErrUnknownSender, got %v", err)
	}
}

func TestAuthenticateRejectsDisallowedEventBeforeSignature(t *testing.T) {
	// Valid signature, disallowed event: the allow-list gate must win so the
	// caller gets the informative rejection.
	body := []byte(`{}`)
	hdr := validHeaders(body)
	hdr.EventType = "workflow_run"

	err := newTestAuthenticator(true).Authenticate(body, hdr)
	if !errors.Is(err, ErrEventNotAllowed) {
		t.Fatalf("expected ErrEventNotAllowed, got %v", err)
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	hdr := validHeaders(body)
	hdr.Signature = Sign([]byte(`{"action":"tampered"}`), testSecret)

	err := newTestAuthenticator(true).Authenticate(body, hdr)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestAuthenticateRejectsMalformedSignatureHeader(t *testing.T) {
	body := []byte(`{}`)
	for _, signature := range []string{"", "sha1=deadbeef", "sha256=zzzz"} {
		hdr := validHeaders(body)
		hdr.Signature = signature
		err := newTestAuthenticator(true).Authenticate(body, hdr)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("signature %q: expected ErrInvalidSignature, got %v", signature, err)
		}
	}
}

func TestAuthenticateSkipsSignatureWhenDisabled(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	hdr := validHeaders(body)
	hdr.Signature = ""

	if err := newTestAuthenticator(false).Authenticate(body, hdr); err != nil {
		t.Fatalf("expected acceptance with verification disabled, got %v", err)
	}
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	hdr := Headers{
		UserAgent: "GitHub-Hookshot/x",
		EventType: "pull_request",
		Signature: Sign(body, testSecret),
	}
	if err := newTestAuthenticator(true).Authenticate(body, hdr); err != nil {
		t.Fatalf("expected Sign output to verify, got %v", err)
	}
}
