package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyConversation = errors.New("chat history is empty")
	ErrInvalidMessage    = errors.New("invalid chat message")
)

// Relay forwards a free-form conversation to the chat backend without injecting any schema or
// response contract.
type Relay struct {
	Completer ChatCompleter
}

func NewRelay(completer ChatCompleter) *Relay {
	return &Relay{Completer: completer}
}

// Relay returns the assistant's next message for history. The caller owns the history and appends
// the reply itself.
func (r *Relay) Relay(ctx context.Context, history []Message) (Message, error) {
	if r.Completer == nil {
		return Message{}, errors.New("chat completer is required")
	}
	if len(history) == 0 {
		return Message{}, ErrEmptyConversation
	}
	for i, msg := range history {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return Message{}, fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidMessage, i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return Message{}, fmt.Errorf("%w: message %d has empty content", ErrInvalidMessage, i)
		}
	}

	reply, err := r.Completer.Complete(ctx, history)
	if err != nil {
		return Message{}, fmt.Errorf("relay chat: %w", err)
	}
	if reply.Role == "" {
		reply.Role = RoleAssistant
	}
	return reply, nil
}
