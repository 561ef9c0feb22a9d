package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dbchat/dbchat/internal/dialect"
	"github.com/dbchat/dbchat/internal/prompt"
	"github.com/dbchat/dbchat/internal/schema"
)

type stubCompleter struct {
	reply    Message
	err      error
	calls    int
	received []Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []Message) (Message, error) {
	s.calls++
	s.received = append([]Message(nil), messages...)
	return s.reply, s.err
}

func ordersSchema() schema.DatabaseSchema {
	return schema.Build([]schema.TableSchema{
		{TableName: "dbo.Orders", Columns: []string{"OrderId", "CustomerId", "Total"}},
	})
}

func TestGenerateQueryEndToEnd(t *testing.T) {
	completer := &stubCompleter{reply: Message{
		Role:    RoleAssistant,
		Content: "```json\n{\"summary\":\"Selects the five largest orders.\",\"query\":\"SELECT TOP 5 OrderId, CustomerId, Total FROM dbo.Orders ORDER BY Total DESC\"}\n```",
	}}
	generator := NewGenerator(completer, prompt.Options{RowLimit: 100}, DefaultModel, nil)

	got, err := generator.GenerateQuery(context.Background(), "top 5 orders by total", ordersSchema())
	if err != nil {
		t.Fatalf("GenerateQuery() error = %v", err)
	}
	if !got.Parsed || got.Err() != nil {
		t.Fatalf("generation not parsed: %#v", got)
	}
	if got.Query.Query != "SELECT TOP 5 OrderId, CustomerId, Total FROM dbo.Orders ORDER BY Total DESC" {
		t.Fatalf("query = %q", got.Query.Query)
	}
	if got.Query.Summary != "Selects the five largest orders." {
		t.Fatalf("summary = %q", got.Query.Summary)
	}
	if completer.calls != 1 {
		t.Fatalf("calls = %d, want 1", completer.calls)
	}
	if len(completer.received) != 2 {
		t.Fatalf("messages = %d, want 2", len(completer.received))
	}
	if completer.received[0].Role != RoleSystem || !strings.Contains(completer.received[0].Content, "- dbo.Orders (OrderId, CustomerId, Total)") {
		t.Fatalf("system message = %#v", completer.received[0])
	}
	if completer.received[1].Role != RoleUser || completer.received[1].Content != "top 5 orders by total" {
		t.Fatalf("user message = %#v", completer.received[1])
	}
}

func TestGenerateQueryMalformedResponseKeepsRawText(t *testing.T) {
	for _, raw := range []string{
		"Sorry, I can only help with database questions.",
		`{"summary":"no query here"}`,
		`{"summary":"s","query":null}`,
		`{"summary":"s","query":42}`,
		`["summary","query"]`,
		"",
	} {
		generator := NewGenerator(&stubCompleter{reply: Message{Role: RoleAssistant, Content: raw}}, prompt.Options{}, "", nil)
		got, err := generator.GenerateQuery(context.Background(), "anything", ordersSchema())
		if err != nil {
			t.Fatalf("GenerateQuery(%q) error = %v", raw, err)
		}
		if got.Parsed {
			t.Fatalf("GenerateQuery(%q) parsed unexpectedly: %#v", raw, got)
		}
		if got.RawText != raw {
			t.Fatalf("RawText = %q, want %q", got.RawText, raw)
		}
		var parseErr *ParseError
		if !errors.As(got.Err(), &parseErr) || parseErr.Raw != raw {
			t.Fatalf("Err() = %v", got.Err())
		}
	}
}

func TestGenerateQueryBackendFailure(t *testing.T) {
	generator := NewGenerator(&stubCompleter{err: errors.New("connection reset")}, prompt.Options{}, "", nil)
	if _, err := generator.GenerateQuery(context.Background(), "q", ordersSchema()); err == nil {
		t.Fatal("expected backend error")
	}
}

func TestGenerateQueryRejectsBlankPrompt(t *testing.T) {
	completer := &stubCompleter{}
	generator := NewGenerator(completer, prompt.Options{}, "", nil)
	if _, err := generator.GenerateQuery(context.Background(), "   ", ordersSchema()); err == nil {
		t.Fatal("expected blank prompt error")
	}
	if completer.calls != 0 {
		t.Fatal("backend should not be called for a blank prompt")
	}
}

func TestWithDialectChangesPromptOnly(t *testing.T) {
	completer := &stubCompleter{reply: Message{Content: `{"summary":"s","query":"SELECT 1"}`}}
	base := NewGenerator(completer, prompt.Options{RowLimit: 10}, "", nil)
	pg := base.WithDialect(dialect.MustLookup("postgres"))
	if _, err := pg.GenerateQuery(context.Background(), "q", ordersSchema()); err != nil {
		t.Fatalf("GenerateQuery() error = %v", err)
	}
	if !strings.Contains(completer.received[0].Content, "PostgreSQL") {
		t.Fatal("postgres generator should prompt for PostgreSQL")
	}
	if base.Options.Dialect.Name != "" {
		t.Fatal("WithDialect mutated the base generator")
	}
}

func TestParseResponseCleansArtifacts(t *testing.T) {
	cases := map[string]string{
		"fenced":         "```json\n{\"summary\":\"s\",\"query\":\"SELECT 1\"}\n```",
		"bare fence":     "```{\"summary\":\"s\",\"query\":\"SELECT 1\"}```",
		"sql fence":      "```sql\n{\"summary\":\"s\",\"query\":\"SELECT 1\"}\n```",
		"upper fence":    "```JSON {\"summary\":\"s\",\"query\":\"SELECT 1\"}```",
		"escaped breaks": `{\n"summary": "s",\n"query": "SELECT 1"\n}`,
		"extra keys":     `{"summary":"s","query":"SELECT 1","confidence":"high"}`,
	}
	for name, raw := range cases {
		got, err := ParseResponse(raw)
		if err != nil {
			t.Fatalf("%s: ParseResponse() error = %v", name, err)
		}
		if got.Summary != "s" || got.Query != "SELECT 1" {
			t.Fatalf("%s: got %#v", name, got)
		}
	}
}

func TestParseErrorMessageDoesNotLeakRawText(t *testing.T) {
	_, err := ParseResponse("not json at all")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v", err)
	}
	if parseErr.Raw != "not json at all" {
		t.Fatalf("Raw = %q", parseErr.Raw)
	}
	if !strings.HasPrefix(err.Error(), "failed to parse AI response") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestCleanResponseRemovesEveryLiteralNewlineSequence(t *testing.T) {
	got, err := ParseResponse(`{"summary":"a\\nb","query":"SELECT 1"}`)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if got.Summary != "a\b" {
		t.Fatalf("Summary = %q, want %q", got.Summary, "a\b")
	}
}
