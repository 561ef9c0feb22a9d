package dbchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// runError marks failures that happen after the command line parsed cleanly.
type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

type httpError struct {
	Status int
	Body   []byte
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

type settings struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	json    bool
	noColor bool
	client  *http.Client
	stdout  io.Writer
}

// Run executes one dbchatctl invocation and returns the process exit code: 0 on success, 1 when
// the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	s := &settings{stdout: stdout, client: defaults.HTTPClient}
	root := newRootCommand(s, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	var failed *runError
	if errors.As(err, &failed) {
		_, _ = fmt.Fprintf(stderr, "%v\n", failed.err)
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	if cmd != nil {
		_, _ = fmt.Fprint(stderr, cmd.UsageString())
	}
	return 2
}

func newRootCommand(s *settings, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "dbchatctl",
		Short:         "Ask questions of your databases in plain language",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if s.noColor {
				pterm.DisableStyling()
			}
			if s.client == nil {
				s.client = &http.Client{Timeout: s.timeout}
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&s.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "dbchat API base URL")
	flags.StringVar(&s.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.DurationVar(&s.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")
	flags.BoolVar(&s.json, "json", false, "print raw JSON responses")
	flags.BoolVar(&s.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newProbeCommand(s, "health", "Check that the API is alive", "/v1/health"),
		newProbeCommand(s, "ready", "Check that the API dependencies are reachable", "/v1/ready"),
		newConnectionsCommand(s),
		newSchemaCommand(s),
		newAskCommand(s),
		newRunCommand(s),
		newHistoryCommand(s),
		newChatCommand(s),
	)
	return root
}

func newProbeCommand(s *settings, name, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := s.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return s.printJSON(raw)
		},
	}
}

func newConnectionsCommand(s *settings) *cobra.Command {
	connections := &cobra.Command{Use: "connections", Short: "Manage database connections"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := s.do(cmd.Context(), http.MethodGet, "/v1/connections", nil)
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var body struct {
				Connections []struct {
					Name    string `json:"name"`
					Dialect string `json:"dialect"`
				} `json:"connections"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			rows := [][]string{{"Name", "Dialect"}}
			for _, conn := range body.Connections {
				rows = append(rows, []string{conn.Name, conn.Dialect})
			}
			return s.printTable(rows)
		},
	}

	var connectionString, dialect string
	var verify bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.do(cmd.Context(), http.MethodPost, "/v1/connections", map[string]any{
				"name":              args[0],
				"connection_string": connectionString,
				"dialect":           dialect,
				"verify":            verify,
			})
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			_, _ = fmt.Fprintf(s.stdout, "connection %q added\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&connectionString, "connection-string", "", "driver connection string")
	add.Flags().StringVar(&dialect, "dialect", "", "sqlserver, postgres, mysql, sqlite or duckdb")
	add.Flags().BoolVar(&verify, "verify", true, "read the schema before storing the connection")
	_ = add.MarkFlagRequired("connection-string")

	remove := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := s.do(cmd.Context(), http.MethodDelete, "/v1/connections/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(s.stdout, "connection %q deleted\n", args[0])
			return nil
		},
	}

	connections.AddCommand(list, add, remove)
	return connections
}

func newSchemaCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <connection>",
		Short: "Show the tables and columns of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.do(cmd.Context(), http.MethodGet, connectionPath(args[0], "schema"), nil)
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var body struct {
				Raw []string `json:"schema_raw"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			for _, line := range body.Raw {
				_, _ = fmt.Fprintln(s.stdout, line)
			}
			return nil
		},
	}
}

type resultTable struct {
	Table        [][]string `json:"table"`
	RowCount     int        `json:"row_count"`
	FaultedCells int        `json:"faulted_cells"`
	DurationMS   int64      `json:"duration_ms"`
}

func newAskCommand(s *settings) *cobra.Command {
	var run bool
	cmd := &cobra.Command{
		Use:   "ask <connection> <question>...",
		Short: "Generate SQL for a question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.do(cmd.Context(), http.MethodPost, connectionPath(args[0], "generate"), map[string]any{
				"prompt":  strings.Join(args[1:], " "),
				"execute": run,
			})
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var body struct {
				Summary string       `json:"summary"`
				Query   string       `json:"query"`
				Result  *resultTable `json:"result"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(s.stdout, body.Summary)
			_, _ = fmt.Fprintln(s.stdout)
			_, _ = fmt.Fprintln(s.stdout, body.Query)
			if body.Result != nil {
				_, _ = fmt.Fprintln(s.stdout)
				return s.printResult(*body.Result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&run, "run", false, "execute the generated query and print the result")
	return cmd
}

func newRunCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run <connection> <sql>",
		Short: "Execute SQL and print the result table",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.do(cmd.Context(), http.MethodPost, connectionPath(args[0], "query"), map[string]any{
				"sql": strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var result resultTable
			if err := decode(raw, &result); err != nil {
				return err
			}
			return s.printResult(result)
		},
	}
}

func newHistoryCommand(s *settings) *cobra.Command {
	var favorites bool
	cmd := &cobra.Command{
		Use:   "history <connection>",
		Short: "List previously generated queries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := connectionPath(args[0], "history")
			if favorites {
				path += "?favorites=true"
			}
			raw, err := s.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var body struct {
				Entries []struct {
					ID        string    `json:"id"`
					Prompt    string    `json:"prompt"`
					Query     string    `json:"query"`
					Favorite  bool      `json:"favorite"`
					CreatedAt time.Time `json:"created_at"`
				} `json:"entries"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			rows := [][]string{{"ID", "Created", "Favorite", "Prompt", "Query"}}
			for _, entry := range body.Entries {
				star := ""
				if entry.Favorite {
					star = "*"
				}
				rows = append(rows, []string{entry.ID, entry.CreatedAt.Format(time.RFC3339), star, entry.Prompt, entry.Query})
			}
			return s.printTable(rows)
		},
	}
	cmd.Flags().BoolVar(&favorites, "favorites", false, "only list favorites")
	return cmd
}

func newChatCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>...",
		Short: "Send a message to the chat assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := s.do(cmd.Context(), http.MethodPost, "/v1/chat", map[string]any{
				"messages": []map[string]string{{"role": "user", "content": strings.Join(args, " ")}},
			})
			if err != nil {
				return err
			}
			if s.json {
				return s.printJSON(raw)
			}
			var body struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}
			if err := decode(raw, &body); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(s.stdout, body.Message.Content)
			return nil
		},
	}
}

func (s *settings) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &runError{err: err}
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.baseURL, "/")+path, body)
	if err != nil {
		return nil, &runError{err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(s.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &runError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &runError{err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &runError{err: &httpError{Status: resp.StatusCode, Body: raw}}
	}
	return raw, nil
}

func (s *settings) printJSON(raw []byte) error {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(s.stdout, pretty)
		return nil
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(s.stdout, string(raw))
	}
	return nil
}

func (s *settings) printResult(result resultTable) error {
	if len(result.Table) == 0 {
		_, _ = fmt.Fprintln(s.stdout, "(no rows)")
		return nil
	}
	if err := s.printTable(result.Table); err != nil {
		return err
	}
	footer := fmt.Sprintf("%d rows in %dms", result.RowCount, result.DurationMS)
	if result.FaultedCells > 0 {
		footer += fmt.Sprintf(", %d cells could not be converted", result.FaultedCells)
	}
	_, _ = fmt.Fprintln(s.stdout, footer)
	return nil
}

func (s *settings) printTable(rows [][]string) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return &runError{err: fmt.Errorf("render table: %w", err)}
	}
	_, _ = fmt.Fprintln(s.stdout, rendered)
	return nil
}

func connectionPath(name, suffix string) string {
	return "/v1/connections/" + url.PathEscape(name) + "/" + suffix
}

func decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &runError{err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
