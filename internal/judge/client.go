package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/peerpad/peerpad/internal/telemetry"
)

// Request is one code execution: a language id understood by the judge
// service, the source text and optional stdin.
type Request struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin,omitempty"`
}

// Result is the judge's verdict. Exactly one of the output fields is
// usually populated.
type Result struct {
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	CompileOutput string `json:"compile_output,omitempty"`
}

// Client talks to the remote execution service. The service is an opaque
// collaborator: one request, one verdict, no sandboxing concerns on our
// side.
type Client struct {
	baseURL    string
	apiKey     string
	apiHost    string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, apiHost string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		apiHost: apiHost,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Execute submits the source and waits for the verdict.
func (c *Client) Execute(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/submissions?base64_encoded=false&wait=true",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-RapidAPI-Key", c.apiKey)
		httpReq.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		telemetry.JudgeRun("error")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		telemetry.JudgeRun("error")
		return nil, fmt.Errorf("judge service responded with %d", resp.StatusCode)
	}

	result := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		telemetry.JudgeRun("error")
		return nil, err
	}

	telemetry.JudgeRun("ok")
	return result, nil
}
