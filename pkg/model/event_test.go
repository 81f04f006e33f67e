package model

import "testing"

func TestLifecycleTransitions(t *testing.T) {
	legal := []struct{ from, to EventStatus }{
		{EventPending, EventProcessing},
		{EventProcessing, EventPending},
		{EventProcessing, EventMatched},
		{EventProcessing, EventSkipped},
		{EventProcessing, EventFailed},
		{EventMatched, EventDispatched},
		{EventMatched, EventFailed},
		{EventMatched, EventPending},
		// Stale claim reclaim after a replica crash.
		{EventMatched, EventProcessing},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to EventStatus }{
		{EventPending, EventDispatched},
		{EventPending, EventMatched},
		{EventDispatched, EventPending},
		{EventSkipped, EventPending},
		{EventFailed, EventPending},
		{EventDispatched, EventFailed},
		{EventSkipped, EventProcessing},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, status := range []EventStatus{EventDispatched, EventSkipped, EventFailed} {
		if !IsTerminal(status) {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range []EventStatus{EventPending, EventProcessing, EventMatched} {
		if IsTerminal(status) {
			t.Errorf("expected %s to be non-terminal", status)
		}
	}
}

func TestEnvelopeExposesQueryableFields(t *testing.T) {
	event := WebhookEvent{
		DeliveryID: "d-1",
		EventType:  "pull_request",
		Action:     "opened",
		Repository: "org/repo",
		SubjectID:  "42",
		Status:     EventDispatched,
		Payload:    JSONB{"action": "opened"},
	}

	envelope := event.Envelope()
	if envelope["status"] != "DISPATCHED" {
		t.Fatalf("expected status DISPATCHED, got %v", envelope["status"])
	}
	payload, ok := envelope["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected payload map, got %T", envelope["payload"])
	}
	if payload["action"] != "opened" {
		t.Fatalf("expected nested action, got %v", payload["action"])
	}
}
