package tablechatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("tablechatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "tablechat API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "session ID (required for schema/ask/query/drop)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	output := fs.String("output", "table", "output format: table or json")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	runner := &runner{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		session: strings.TrimSpace(*sessionID),
		output:  *output,
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "health":
		return runner.getJSON(ctx, "/v1/health")
	case "ready":
		return runner.getJSON(ctx, "/v1/ready")
	case "upload":
		return runner.upload(ctx, rest)
	case "schema":
		return runner.schema(ctx)
	case "ask":
		return runner.ask(ctx, rest)
	case "query":
		return runner.query(ctx, rest)
	case "drop":
		return runner.drop(ctx)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type runner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	session string
	output  string
	stdout  io.Writer
	stderr  io.Writer
}

func (r *runner) getJSON(ctx context.Context, path string) int {
	code, body, err := r.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
	}
	return 0
}

func (r *runner) upload(ctx context.Context, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.stderr, "usage: tablechatctl upload <file.csv|file.parquet>")
		return 2
	}
	filePath := args[0]
	file, err := os.Open(filePath)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "open %s: %v\n", filePath, err)
		return 1
	}
	defer func() { _ = file.Close() }()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err == nil {
		_, err = io.Copy(part, file)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "build upload: %v\n", err)
		return 1
	}

	code, body, err := r.do(ctx, http.MethodPost, "/v1/sessions", writer.FormDataContentType(), &buf)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		return r.printError(code, body)
	}

	var response struct {
		SessionID string   `json:"session_id"`
		Dataset   string   `json:"dataset"`
		Columns   []string `json:"columns"`
		RowCount  int64    `json:"row_count"`
		Preview   struct {
			Columns []string `json:"columns"`
			Rows    [][]any  `json:"rows"`
		} `json:"preview"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "decode response: %v\n", err)
		return 1
	}

	if r.output == "json" {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return 0
	}
	_, _ = fmt.Fprintf(r.stdout, "session: %s\n", response.SessionID)
	_, _ = fmt.Fprintf(r.stdout, "dataset: %s (%d rows, %d columns)\n", response.Dataset, response.RowCount, len(response.Columns))
	renderRows(r.stdout, response.Preview.Columns, response.Preview.Rows)
	return 0
}

func (r *runner) schema(ctx context.Context) int {
	if !r.requireSession() {
		return 2
	}
	return r.getJSON(ctx, "/v1/sessions/"+r.session)
}

func (r *runner) ask(ctx context.Context, args []string) int {
	if !r.requireSession() {
		return 2
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		_, _ = fmt.Fprintln(r.stderr, "usage: tablechatctl -session <id> ask <question>")
		return 2
	}

	payload, _ := json.Marshal(map[string]string{"question": question})
	code, body, err := r.do(ctx, http.MethodPost, "/v1/sessions/"+r.session+"/ask", "application/json", bytes.NewReader(payload))
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		return r.printError(code, body)
	}

	var response struct {
		SQL        string   `json:"sql"`
		Columns    []string `json:"columns"`
		Rows       [][]any  `json:"rows"`
		Attempts   int      `json:"attempts"`
		DurationMs int64    `json:"duration_ms"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "decode response: %v\n", err)
		return 1
	}

	if r.output == "json" {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return 0
	}
	_, _ = fmt.Fprintf(r.stdout, "sql: %s\n", response.SQL)
	_, _ = fmt.Fprintf(r.stdout, "attempts: %d (%d ms)\n", response.Attempts, response.DurationMs)
	renderRows(r.stdout, response.Columns, response.Rows)
	return 0
}

func (r *runner) query(ctx context.Context, args []string) int {
	if !r.requireSession() {
		return 2
	}
	sqlText := strings.TrimSpace(strings.Join(args, " "))
	if sqlText == "" {
		_, _ = fmt.Fprintln(r.stderr, "usage: tablechatctl -session <id> query <sql>")
		return 2
	}

	payload, _ := json.Marshal(map[string]string{"sql": sqlText})
	code, body, err := r.do(ctx, http.MethodPost, "/v1/sessions/"+r.session+"/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		return r.printError(code, body)
	}

	var response struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "decode response: %v\n", err)
		return 1
	}

	if r.output == "json" {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return 0
	}
	renderRows(r.stdout, response.Columns, response.Rows)
	return 0
}

func (r *runner) drop(ctx context.Context) int {
	if !r.requireSession() {
		return 2
	}
	code, body, err := r.do(ctx, http.MethodDelete, "/v1/sessions/"+r.session, "", nil)
	if err != nil {
		_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		return r.printError(code, body)
	}
	_, _ = fmt.Fprintf(r.stdout, "session %s dropped\n", r.session)
	return 0
}

func (r *runner) requireSession() bool {
	if r.session == "" {
		_, _ = fmt.Fprintln(r.stderr, "-session is required for this command")
		return false
	}
	return true
}

func (r *runner) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// printError surfaces the API error envelope, including the engine error on
// failed SQL so it can be read without digging through JSON.
func (r *runner) printError(code int, body []byte) int {
	var envelope struct {
		ErrorCode string         `json:"error_code"`
		Message   string         `json:"message"`
		Context   map[string]any `json:"context"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ErrorCode == "" {
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	_, _ = fmt.Fprintf(r.stderr, "%s: %s\n", envelope.ErrorCode, envelope.Message)
	if engineError, ok := envelope.Context["engine_error"].(string); ok && engineError != "" {
		_, _ = fmt.Fprintf(r.stderr, "  %s\n", engineError)
	}
	if sqlText, ok := envelope.Context["sql"].(string); ok && sqlText != "" {
		_, _ = fmt.Fprintf(r.stderr, "  sql: %s\n", sqlText)
	}
	return 1
}

func renderRows(w io.Writer, columns []string, rows [][]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(columns))
	for i, column := range columns {
		headerRow[i] = column
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		rendered := make(table.Row, len(columns))
		for i := range columns {
			rendered[i] = "NULL"
			if i < len(row) && row[i] != nil {
				rendered[i] = fmt.Sprintf("%v", row[i])
			}
		}
		t.AppendRow(rendered)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
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

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: tablechatctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  upload <file>          POST /v1/sessions (CSV or Parquet upload)")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/sessions/{session}")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/sessions/{session}/ask")
	_, _ = fmt.Fprintln(w, "  query <sql>            POST /v1/sessions/{session}/query")
	_, _ = fmt.Fprintln(w, "  drop                   DELETE /v1/sessions/{session}")
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
