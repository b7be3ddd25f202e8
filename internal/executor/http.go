package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/birddigital/callbridge/internal/logging"
)

// HTTPExecutor dispatches an utterance to a remote command processor
// over HTTP, for deployments that run the executor as its own service
// rather than a local subprocess.
type HTTPExecutor struct {
	url    string
	client *http.Client
	log    *logging.Logger
}

// NewHTTPExecutor builds an executor posting to url.
func NewHTTPExecutor(url string, log *logging.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		url:    url,
		client: &http.Client{Timeout: dispatchTimeout + 5*time.Second},
		log:    log,
	}
}

type httpDispatchRequest struct {
	CallID    string `json:"call_id"`
	Utterance string `json:"utterance"`
}

type httpDispatchResponse struct {
	Reply string `json:"reply"`
}

// Dispatch POSTs the utterance and returns the "reply" field of the JSON
// response. A client-side timeout returns the fallback phrase rather
// than an error, matching SubprocessExecutor's behavior.
func (e *HTTPExecutor) Dispatch(ctx context.Context, callID, utterance string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	body, err := json.Marshal(httpDispatchRequest{CallID: callID, Utterance: utterance})
	if err != nil {
		return "", fmt.Errorf("executor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(dctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if dctx.Err() == context.DeadlineExceeded {
			e.log.Warn("executor: http dispatch to %s timed out for call %s", e.url, callID)
			return fallbackPhrase, nil
		}
		return "", fmt.Errorf("executor: http dispatch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("executor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("executor: http dispatch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out httpDispatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("executor: parse response: %w", err)
	}
	return strings.TrimSpace(out.Reply), nil
}
