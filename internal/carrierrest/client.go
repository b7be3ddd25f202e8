// Package carrierrest is the REST client used to place outbound calls
// and control in-progress ones against the telephony carrier's call
// control API, genericized off the SignalWire-specific wire shapes in
// the original dialing client (the API itself is LaML/TwiML-compatible,
// so the request/response shapes carry over unchanged).
package carrierrest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one carrier account's call-control REST API.
type Client struct {
	projectID  string
	token      string
	baseURL    string
	httpClient *http.Client
}

// New builds a Client for the carrier account identified by projectID,
// authenticating with token against the given space (the carrier's
// per-account subdomain).
func New(projectID, token, space string) *Client {
	return &Client{
		projectID:  projectID,
		token:      token,
		baseURL:    fmt.Sprintf("https://%s/api/laml/2010-04-01", space),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Call is the carrier's representation of one call leg.
type Call struct {
	SID       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// DialRequest configures an outbound call placed through PlaceCall.
type DialRequest struct {
	From             string
	To               string
	AnswerWebhookURL string
	StatusCallback   string
	Record           bool
	RingTimeoutSec   int
}

func (c *Client) configured() error {
	if c.projectID == "" || c.token == "" {
		return fmt.Errorf("carrierrest: credentials not configured")
	}
	return nil
}

// PlaceCall dials req.To from req.From, instructing the carrier to fetch
// call-handling instructions from req.AnswerWebhookURL once answered.
func (c *Client) PlaceCall(ctx context.Context, req DialRequest) (*Call, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Url", req.AnswerWebhookURL)
	form.Set("Method", "POST")
	form.Set("MachineDetection", "DetectMessageEnd")
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		form.Set("StatusCallbackEvent", "initiated,ringing,answered,completed")
		form.Set("StatusCallbackMethod", "POST")
	}
	if req.Record {
		form.Set("Record", "true")
	}
	if req.RingTimeoutSec > 0 {
		form.Set("Timeout", fmt.Sprintf("%d", req.RingTimeoutSec))
	}

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.projectID)
	return c.doCallRequest(ctx, http.MethodPost, reqURL, form)
}

// GetCall retrieves the carrier's current view of a call leg.
func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.projectID, callSID)
	return c.doCallRequest(ctx, http.MethodGet, reqURL, nil)
}

// HangupCall asks the carrier to end an in-progress call.
func (c *Client) HangupCall(ctx context.Context, callSID string) error {
	if err := c.configured(); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Status", "completed")
	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.projectID, callSID)
	_, err := c.doCallRequest(ctx, http.MethodPost, reqURL, form)
	return err
}

func (c *Client) doCallRequest(ctx context.Context, method, reqURL string, form url.Values) (*Call, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("carrierrest: build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.projectID, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrierrest: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("carrierrest: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("carrierrest: api error (%d): %s", resp.StatusCode, string(data))
	}

	var call Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("carrierrest: decode response: %w", err)
	}
	return &call, nil
}

// markupResponse mirrors the carrier's TwiML/LaML XML envelope.
type markupResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *connectBlock `xml:"Connect,omitempty"`
	Say     *sayBlock     `xml:"Say,omitempty"`
}

type connectBlock struct {
	Stream streamBlock `xml:"Stream"`
}

type streamBlock struct {
	URL        string        `xml:"url,attr"`
	Parameters []streamParam `xml:"Parameter"`
}

type streamParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type sayBlock struct {
	Voice string `xml:"voice,attr"`
	Text  string `xml:",chardata"`
}

// StreamParam is one custom parameter carried on the media-stream
// connect instruction, delivered back to the application on the
// carrier's "start" event as StartPayload.CustomParameters.
type StreamParam struct {
	Name  string
	Value string
}

// StreamMarkup renders the markup document that instructs the carrier to
// open a bidirectional media stream to streamURL for the duration of the
// call, carrying any given custom parameters — the response to
// POST /carrier/voice.
func StreamMarkup(streamURL string, params ...StreamParam) ([]byte, error) {
	stream := streamBlock{URL: streamURL}
	for _, p := range params {
		stream.Parameters = append(stream.Parameters, streamParam{Name: p.Name, Value: p.Value})
	}
	doc := markupResponse{Connect: &connectBlock{Stream: stream}}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("carrierrest: marshal stream markup: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// SayMarkup renders a markup document that just speaks text and hangs
// up, used for error responses to the voice webhook.
func SayMarkup(text, voice string) ([]byte, error) {
	doc := markupResponse{Say: &sayBlock{Voice: voice, Text: text}}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("carrierrest: marshal say markup: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
