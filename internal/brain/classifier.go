package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Classifier answers whether an utterance is a request to do something
// (an "action") versus ordinary conversation. Implementations must
// fail open: the caller treats a classifier error as "actionable" so a
// real request is never silently dropped.
type Classifier interface {
	Classify(ctx context.Context, utterance, recentContext string) (actionable bool, err error)
}

// geminiClassifierURL is the generateContent endpoint for the lightweight
// model used purely for yes/no intent classification.
const geminiClassifierURL = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

// GeminiClassifier asks a fast text model a single yes/no question per
// utterance. It talks to the plain REST endpoint over net/http rather
// than a client SDK: the classifier is a single small POST, and no
// grounded Go client for this API appears anywhere in the reference
// pack (see DESIGN.md).
type GeminiClassifier struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGeminiClassifier builds a classifier against the given model
// (e.g. "gemini-3-flash-preview").
func NewGeminiClassifier(apiKey, model string) *GeminiClassifier {
	return &GeminiClassifier{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type genContentRequest struct {
	Contents []genContentTurn `json:"contents"`
}

type genContentTurn struct {
	Parts []genContentPart `json:"parts"`
}

type genContentPart struct {
	Text string `json:"text"`
}

type genContentResponse struct {
	Candidates []struct {
		Content genContentTurn `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClassifier) Classify(ctx context.Context, utterance, recentContext string) (bool, error) {
	prompt := fmt.Sprintf(`You are a simple intent classifier. Determine if the user wants you to DO something or just chatting.

Recent conversation:
%s

User said: "%s"

Is this a request to DO something? (open app, search, play music, send message, make call, browse web, take notes, execute command, control device, etc.)

Answer with just ONE word: YES or NO

If the user is asking you to perform ANY action, task, or command - say YES.
If the user is just chatting, greeting, asking a question about yourself, or having casual conversation - say NO.`, recentContext, utterance)

	body, err := json.Marshal(genContentRequest{
		Contents: []genContentTurn{{Parts: []genContentPart{{Text: prompt}}}},
	})
	if err != nil {
		return false, fmt.Errorf("brain: marshal classify request: %w", err)
	}

	url := fmt.Sprintf(geminiClassifierURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("brain: build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("brain: classify request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("brain: read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("brain: classify status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out genContentResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("brain: parse classify response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return false, fmt.Errorf("brain: classify response had no candidates")
	}

	answer := strings.ToUpper(strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text))
	return strings.HasPrefix(answer, "YES"), nil
}
