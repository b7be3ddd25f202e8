package modelstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/birddigital/callbridge/internal/logging"
)

// VariantA speaks the server-VAD real-time protocol: the model itself
// detects speech boundaries and emits explicit
// input_audio_buffer.speech_started/speech_stopped events, so the stream
// never has to infer a turn boundary from transcript order.
type VariantA struct {
	endpoint string
	apiKey   string
	model    string

	log *logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	audio  chan []byte
	done   chan struct{}
}

// NewVariantA builds an unconnected server-VAD stream against the given
// websocket endpoint (e.g. "wss://api.openai.com/v1/realtime").
func NewVariantA(endpoint, apiKey, model string, log *logging.Logger) *VariantA {
	return &VariantA{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		log:      log,
	}
}

func (v *VariantA) InputRate() int  { return 16000 }
func (v *VariantA) OutputRate() int { return 24000 }

type vaSessionUpdate struct {
	Type    string        `json:"type"`
	Session vaSessionBody `json:"session"`
}

type vaSessionBody struct {
	Modalities        []string      `json:"modalities"`
	Instructions      string        `json:"instructions"`
	Voice             string        `json:"voice"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     vaTurnDetect  `json:"turn_detection"`
}

type vaTurnDetect struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type vaEnvelope struct {
	Type  string          `json:"type"`
	Delta string          `json:"delta"`
	Error *vaErrorBody    `json:"error"`
	Item  json.RawMessage `json:"item"`
}

type vaErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connect dials the model endpoint and configures server-side VAD, a
// fixed output voice, and the system instruction (§4.3, variant A).
func (v *VariantA) Connect(ctx context.Context, systemInstruction, voice, initialPrompt string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+v.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	url := fmt.Sprintf("%s?model=%s", v.endpoint, v.model)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("modelstream: variant A dial: %w", err)
	}

	v.mu.Lock()
	v.conn = conn
	v.events = make(chan Event, 64)
	v.audio = make(chan []byte, 256)
	v.done = make(chan struct{})
	v.mu.Unlock()

	update := vaSessionUpdate{
		Type: "session.update",
		Session: vaSessionBody{
			Modalities:        []string{"text", "audio"},
			Instructions:      systemInstruction,
			Voice:             voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: vaTurnDetect{
				Type:              "server_vad",
				Threshold:         0.6,
				PrefixPaddingMS:   200,
				SilenceDurationMS: 300,
			},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		conn.Close()
		return fmt.Errorf("modelstream: variant A session.update: %w", err)
	}

	go v.sendPump()
	go v.receivePump()

	if initialPrompt != "" {
		if err := v.SendText(initialPrompt, true); err != nil {
			v.log.Warn("variant A: initial prompt failed: %v", err)
		}
	}
	return nil
}

func (v *VariantA) SendAudio(pcm16 []byte) error {
	v.mu.Lock()
	audio := v.audio
	v.mu.Unlock()
	if audio == nil {
		return fmt.Errorf("modelstream: variant A not connected")
	}
	audio <- pcm16
	return nil
}

type vaItemCreate struct {
	Type string     `json:"type"`
	Item vaTextItem `json:"item"`
}

type vaTextItem struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Content []vaTextContent `json:"content"`
}

type vaTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type vaResponseCreate struct {
	Type string `json:"type"`
}

// SendText injects a text turn. When endOfTurn is true a response.create
// is issued immediately afterward so the model speaks a reply.
func (v *VariantA) SendText(text string, endOfTurn bool) error {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("modelstream: variant A not connected")
	}

	item := vaItemCreate{
		Type: "conversation.item.create",
		Item: vaTextItem{
			ID:   uuid.NewString(),
			Type: "message",
			Role: "user",
			Content: []vaTextContent{
				{Type: "input_text", Text: text},
			},
		},
	}
	v.mu.Lock()
	err := v.conn.WriteJSON(item)
	if err == nil && endOfTurn {
		err = v.conn.WriteJSON(vaResponseCreate{Type: "response.create"})
	}
	v.mu.Unlock()
	if err != nil {
		return fmt.Errorf("modelstream: variant A send text: %w", err)
	}
	return nil
}

func (v *VariantA) Events() <-chan Event { return v.events }

// sendPump batches queued audio frames (up to maxBatch) into a single
// input_audio_buffer.append event per transport write.
func (v *VariantA) sendPump() {
	for {
		batch := drainBatch(v.audio)
		if batch == nil {
			return
		}
		payload := map[string]string{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(batch),
		}
		v.mu.Lock()
		conn := v.conn
		v.mu.Unlock()
		if conn == nil {
			return
		}
		v.mu.Lock()
		err := conn.WriteJSON(payload)
		v.mu.Unlock()
		if err != nil {
			v.log.Warn("variant A: send audio failed: %v", err)
			return
		}
	}
}

func (v *VariantA) receivePump() {
	defer close(v.events)
	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		var env vaEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case "input_audio_buffer.speech_started":
			v.emit(Event{Kind: EventUserSpeechStarted})
		case "input_audio_buffer.speech_stopped":
			v.emit(Event{Kind: EventUserSpeechStopped})
		case "response.audio.delta":
			decoded, err := base64.StdEncoding.DecodeString(env.Delta)
			if err == nil {
				v.emit(Event{Kind: EventAudioDelta, Audio: decoded})
			}
		case "response.audio_transcript.delta":
			v.emit(Event{Kind: EventAssistantTranscriptDelta, Text: env.Delta})
		case "conversation.item.input_audio_transcription.completed":
			var full struct {
				Transcript string `json:"transcript"`
			}
			json.Unmarshal(raw, &full)
			v.emit(Event{Kind: EventUserTranscriptFinal, Text: full.Transcript})
		case "response.done":
			v.emit(Event{Kind: EventResponseDone})
		case "error":
			if env.Error != nil {
				v.emit(Event{Kind: EventError, ErrCode: env.Error.Code, ErrMessage: env.Error.Message})
			}
		}
	}
}

func (v *VariantA) emit(e Event) {
	select {
	case v.events <- e:
	case <-time.After(time.Second):
		v.log.Warn("variant A: event channel stalled, dropping %v", e.Kind)
	}
}

func (v *VariantA) Disconnect() error {
	v.mu.Lock()
	conn := v.conn
	audio := v.audio
	v.conn = nil
	v.mu.Unlock()
	if audio != nil {
		close(audio)
	}
	if conn == nil {
		return nil
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
