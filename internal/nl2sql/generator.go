package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dbchat/dbchat/internal/dialect"
	"github.com/dbchat/dbchat/internal/prompt"
	"github.com/dbchat/dbchat/internal/schema"
)

type Generator struct {
	Completer ChatCompleter
	Options   prompt.Options
	Model     string
	Logger    *slog.Logger
}

func NewGenerator(completer ChatCompleter, opts prompt.Options, model string, logger *slog.Logger) *Generator {
	return &Generator{Completer: completer, Options: opts, Model: model, Logger: logger}
}

// WithDialect returns a copy of g that prompts for d.
func (g *Generator) WithDialect(d dialect.Dialect) *Generator {
	clone := *g
	clone.Options.Dialect = d
	return &clone
}

// GenerateQuery asks the model for a query answering userPrompt against s. A returned error means
// the backend call itself failed; a malformed answer is reported through Generation.Parsed.
func (g *Generator) GenerateQuery(ctx context.Context, userPrompt string, s schema.DatabaseSchema) (Generation, error) {
	if g.Completer == nil {
		return Generation{}, errors.New("chat completer is required")
	}
	if strings.TrimSpace(userPrompt) == "" {
		return Generation{}, errors.New("prompt is required")
	}

	reply, err := g.Completer.Complete(ctx, BuildMessages(s, userPrompt, g.Options))
	if err != nil {
		return Generation{}, fmt.Errorf("request sql generation: %w", err)
	}

	generation := Generation{RawText: reply.Content, Model: g.Model}
	parsed, err := ParseResponse(reply.Content)
	if err != nil {
		if g.Logger != nil {
			g.Logger.WarnContext(ctx, "model response is not a query object",
				slog.Any("error", err),
				slog.Int("response_bytes", len(reply.Content)),
			)
		}
		return generation, nil
	}
	generation.Query = parsed
	generation.Parsed = true
	return generation, nil
}

// BuildMessages returns the system prompt and the user's question, in that order.
func BuildMessages(s schema.DatabaseSchema, userPrompt string, opts prompt.Options) []Message {
	return []Message{
		{Role: RoleSystem, Content: prompt.BuildSystemPrompt(s, opts)},
		{Role: RoleUser, Content: userPrompt},
	}
}

// codeFence matches an opening fence with an optional language tag, or a closing fence.
var codeFence = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// CleanResponse drops code fences and literal "\n" sequences the model may emit despite the
// single-line instruction. The "\n" removal is blind: an escaped backslash followed by n inside
// a JSON string ("a\\nb") loses its n and decodes as a backspace.
func CleanResponse(raw string) string {
	cleaned := codeFence.ReplaceAllString(raw, "")
	return strings.TrimSpace(strings.ReplaceAll(cleaned, `\n`, ""))
}

type wireQuery struct {
	Summary *string `json:"summary"`
	Query   *string `json:"query"`
}

// ParseResponse decodes a model response into an AIQuery. Both keys must be present and hold
// strings; any other shape yields a *ParseError carrying raw unchanged.
func ParseResponse(raw string) (AIQuery, error) {
	cleaned := CleanResponse(raw)
	if cleaned == "" {
		return AIQuery{}, &ParseError{Raw: raw, Err: errors.New("empty response")}
	}
	var wire wireQuery
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return AIQuery{}, &ParseError{Raw: raw, Err: err}
	}
	if wire.Summary == nil {
		return AIQuery{}, &ParseError{Raw: raw, Err: errors.New(`missing "summary"`)}
	}
	if wire.Query == nil {
		return AIQuery{}, &ParseError{Raw: raw, Err: errors.New(`missing "query"`)}
	}
	return AIQuery{Summary: *wire.Summary, Query: *wire.Query}, nil
}
