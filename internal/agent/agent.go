// Package agent fetches IP SLA statistics from a router over SSH and hands
// them to ipslamon: either as a report file in the input directory or pushed
// as raw text to the server data plane (port 1616).
// Every outbound HTTP request carries: Authorization: Bearer <token>
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vesaa/ipslamon/internal/ingest"
)

// ErrNoOperation is returned by Fetch without an operation id. Reports from
// several operations share interval start times, and the store keys records
// by start time alone, so a fetch reads exactly one operation.
var ErrNoOperation = errors.New("no IP SLA operation id (set sla_operation or --operation)")

// Runner executes one command on a router.
type Runner interface {
	Run(cmd string) (string, error)
}

// Command returns the IOS command printing aggregated statistics for one
// operation id, or for all operations when id is empty.
func Command(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return "show ip sla statistics aggregated " + id
	}
	return "show ip sla statistics aggregated"
}

// Fetch runs the statistics command for operation through r and returns its
// output.
func Fetch(ctx context.Context, r Runner, operation string) (string, error) {
	if strings.TrimSpace(operation) == "" {
		return "", ErrNoOperation
	}
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.Run(Command(operation))
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("running %q: %w", Command(operation), res.err)
		}
		if strings.TrimSpace(res.out) == "" {
			return "", fmt.Errorf("running %q: empty output", Command(operation))
		}
		return res.out, nil
	}
}

// ReportName is the file name a fetch from host at t is saved under.
func ReportName(host string, t time.Time) string {
	host = strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(host)
	return fmt.Sprintf("%s-%s.txt", host, t.UTC().Format("20060102T150405"))
}

// Save writes text into dir as name, creating dir if needed. The file is
// written under a temporary name and renamed so a concurrent ingest never
// reads a partial report.
func Save(dir, name, text string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return path, nil
}

// Push posts a raw report to the data plane at addr ("host:port") and
// returns the server's outcome for it.
func Push(ctx context.Context, addr, token, name, text string) (ingest.FileOutcome, error) {
	target := fmt.Sprintf("http://%s/api/reports?name=%s", addr, url.QueryEscape(name))
	var resp struct {
		Data  ingest.FileOutcome `json:"data"`
		Error string             `json:"error"`
	}
	if err := postText(ctx, target, token, text, &resp); err != nil {
		if resp.Error != "" {
			return resp.Data, fmt.Errorf("%w: %s", err, resp.Error)
		}
		return resp.Data, err
	}
	return resp.Data, nil
}

// postText sends body via HTTP POST with the Bearer token in the
// Authorization header and decodes the JSON reply into v.
func postText(ctx context.Context, target, bearerToken, body string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, v)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("server rejected token (401): check --token or agent_token in config")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding server reply: %w", decodeErr)
	}
	return nil
}
