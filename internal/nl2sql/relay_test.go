package nl2sql

import (
	"context"
	"errors"
	"testing"
)

func TestRelayForwardsHistoryUnchanged(t *testing.T) {
	completer := &stubCompleter{reply: Message{Content: "Use an index on Total."}}
	history := []Message{
		{Role: RoleUser, Content: "How do I speed up ORDER BY Total?"},
	}
	reply, err := NewRelay(completer).Relay(context.Background(), history)
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if reply.Role != RoleAssistant || reply.Content != "Use an index on Total." {
		t.Fatalf("reply = %#v", reply)
	}
	if len(completer.received) != 1 || completer.received[0] != history[0] {
		t.Fatalf("backend received %#v", completer.received)
	}
	if len(history) != 1 {
		t.Fatal("relay must not append to the caller's history")
	}
}

func TestRelayRejectsInvalidHistory(t *testing.T) {
	relay := NewRelay(&stubCompleter{})
	if _, err := relay.Relay(context.Background(), nil); !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("error = %v, want ErrEmptyConversation", err)
	}
	if _, err := relay.Relay(context.Background(), []Message{{Role: "tool", Content: "x"}}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
	if _, err := relay.Relay(context.Background(), []Message{{Role: RoleUser, Content: " "}}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestRelayBackendFailure(t *testing.T) {
	relay := NewRelay(&stubCompleter{err: errors.New("boom")})
	if _, err := relay.Relay(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected backend error")
	}
}
