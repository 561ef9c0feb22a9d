package nl2sql

import (
	"context"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIQuery is the model's structured answer: an explanation plus the SQL text.
type AIQuery struct {
	Summary string `json:"summary"`
	Query   string `json:"query"`
}

// ChatCompleter is the chat-completion backend. One call, one response message.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []Message) (Message, error)
}

// Generation is the outcome of one generation request. Parsed is false when the model did not
// answer in the contracted JSON shape; RawText always holds the untouched model output.
type Generation struct {
	Query   AIQuery
	RawText string
	Parsed  bool
	Model   string
}

func (g Generation) Err() error {
	if g.Parsed {
		return nil
	}
	return &ParseError{Raw: g.RawText, Err: errNotParsed}
}

var errNotParsed = fmt.Errorf("response is not a summary/query JSON object")

// ParseError reports a model response outside the contracted shape. Raw is the response text
// before any cleanup.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse AI response as a SQL query: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
