package prompt

import (
	"strconv"
	"strings"

	"github.com/dbchat/dbchat/internal/dialect"
	"github.com/dbchat/dbchat/internal/schema"
)

const DefaultRowLimit = 100

// ResponseFormat is the single-line JSON shape the model must answer with.
const ResponseFormat = `{ "summary": "your-summary", "query":  "your-query" }`

type Options struct {
	Dialect  dialect.Dialect
	RowLimit int
}

// BuildSystemPrompt assembles the system instruction for one generation request. It is a pure
// function of its inputs.
func BuildSystemPrompt(s schema.DatabaseSchema, opts Options) string {
	d := opts.Dialect
	if d.Name == "" {
		d = dialect.MustLookup(dialect.Default)
	}
	rowLimit := opts.RowLimit
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	var b strings.Builder
	line := func(text string) {
		b.WriteString(text)
		b.WriteByte('\n')
	}

	line("You are a helpful, cheerful database assistant. Do not respond with any information unrelated to databases or queries. Use the following database schema when creating your answers:")
	for _, table := range s.Raw {
		line(table)
	}
	line("Include column name headers in the query results.")
	line("Always provide your answer in the JSON format below:")
	line(ResponseFormat)
	line("Output ONLY JSON formatted on a single line. Do not use new line characters.")
	line(`In the preceding JSON response, substitute "your-query" with ` + d.DisplayName + ` Query to retrieve the requested data.`)
	line(`In the preceding JSON response, substitute "your-summary" with an explanation of each step you took to create this query in a detailed paragraph.`)
	line("Do not use " + d.Forbidden + " syntax.")
	line("Always limit the SQL Query to " + strconv.Itoa(rowLimit) + " rows.")
	line("Always include all of the table columns and details.")
	return b.String()
}
