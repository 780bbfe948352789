// Package athenactl implements the operator command line client for the
// AthenaSQL ops API.
package athenactl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
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

	fs := flag.NewFlagSet("athenactl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "AthenaSQL ops API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 3*time.Minute), "HTTP timeout (e.g. 30s)")
	conversationID := fs.String("conversation", "", "conversation id for ask (generated when empty)")
	outPath := fs.String("out", "", "write the export file to this path (ask tabular, export)")

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

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body []byte
	raw := false
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "conversations":
		method, path = http.MethodGet, "/v1/conversations"
	case "sweep":
		method, path = http.MethodPost, "/v1/conversations/sweep"
	case "schema":
		method, path = http.MethodGet, "/v1/schema"
	case "ask":
		if fs.NArg() < 3 {
			_, _ = fmt.Fprintln(stderr, "usage: athenactl ask <scalar|tabular> <question...>")
			return 2
		}
		payload, err := json.Marshal(map[string]any{
			"conversation_id": *conversationID,
			"mode":            fs.Arg(1),
			"question":        strings.Join(fs.Args()[2:], " "),
			"include_body":    *outPath != "",
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
			return 1
		}
		method, path, body = http.MethodPost, "/v1/ask", payload
	case "export":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "usage: athenactl [-out file] export <key>")
			return 2
		}
		key := strings.TrimPrefix(strings.TrimPrefix(fs.Arg(1), "/v1/"), "exports/")
		method, path, raw = http.MethodGet, "/v1/exports/"+escapeKey(key), true
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if raw {
		return writeRaw(stdout, stderr, *outPath, responseBody)
	}
	if command == "ask" && *outPath != "" {
		var askBody struct {
			Artifact *struct {
				Body []byte `json:"body"`
			} `json:"artifact"`
		}
		if err := json.Unmarshal(responseBody, &askBody); err == nil && askBody.Artifact != nil && len(askBody.Artifact.Body) > 0 {
			if err := os.WriteFile(*outPath, askBody.Artifact.Body, 0o644); err != nil {
				_, _ = fmt.Fprintf(stderr, "write %s: %v\n", *outPath, err)
				return 1
			}
			responseBody = stripArtifactBody(responseBody)
		}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
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

func writeRaw(stdout, stderr io.Writer, outPath string, body []byte) int {
	if outPath == "" {
		_, _ = stdout.Write(body)
		return 0
	}
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "write %s: %v\n", outPath, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(body), outPath)
	return 0
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func stripArtifactBody(raw []byte) []byte {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	if artifact, ok := decoded["artifact"].(map[string]any); ok {
		delete(artifact, "body")
	}
	stripped, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return stripped
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
	_, _ = fmt.Fprintln(w, "usage: athenactl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  conversations                    GET /v1/conversations")
	_, _ = fmt.Fprintln(w, "  sweep                            POST /v1/conversations/sweep")
	_, _ = fmt.Fprintln(w, "  schema                           GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <scalar|tabular> <question>  POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  export <key>                     GET /v1/exports/<key>")
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
