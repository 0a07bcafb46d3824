// Package sandbox talks to the external code-execution service. The
// runtime itself is a black box: it takes source plus input and returns
// stdout/stderr/exit status, or grades a submission against a problem's
// test cases.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kretes-dev/codearena-backend/internal/engine"
)

type Request struct {
	Language string `json:"language"`
	Source   string `json:"source"`
	Input    string `json:"input"`
}

type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"durationMs"`
}

type GradeRequest struct {
	Language  string `json:"language"`
	Source    string `json:"source"`
	ProblemID string `json:"problemId"`
}

type GradeResult struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
	Score  int `json:"score"`
}

// Runner is the execution collaborator as the rooms see it.
type Runner interface {
	Execute(ctx context.Context, req Request) (Result, error)
	Grade(ctx context.Context, req GradeRequest) (GradeResult, error)
}

// HTTPRunner posts requests to the sandbox service. The per-call timeout is
// the hard guarantee that the execution coordinator never blocks forever.
type HTTPRunner struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPRunner(baseURL string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Execute(ctx context.Context, req Request) (Result, error) {
	var out Result
	if err := r.post(ctx, "/execute", req, &out); err != nil {
		return Result{}, err
	}
	return out, nil
}

func (r *HTTPRunner) Grade(ctx context.Context, req GradeRequest) (GradeResult, error) {
	var out GradeResult
	if err := r.post(ctx, "/grade", req, &out); err != nil {
		return GradeResult{}, err
	}
	return out, nil
}

func (r *HTTPRunner) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding sandbox request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.ErrExecutionTimeout
	}
	if err != nil {
		return fmt.Errorf("calling sandbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sandbox returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding sandbox response: %w", err)
	}
	return nil
}
