package modelstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/callbridge/internal/logging"
)

// VariantB speaks a real-time protocol with no explicit speech-boundary
// events: the user's turn is inferred complete the moment the next
// assistant transcript fragment arrives, since the server never reports
// input_audio_buffer.speech_started/stopped on this vendor (§4.3, variant
// B). userSpoke tracks whether an unflushed user transcript is pending.
type VariantB struct {
	endpoint string
	apiKey   string
	model    string

	log *logging.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	events     chan Event
	audio      chan []byte
	userSpoke  bool
	userBuffer string
}

// NewVariantB builds an unconnected inferred-turn stream against the
// given websocket endpoint.
func NewVariantB(endpoint, apiKey, model string, log *logging.Logger) *VariantB {
	return &VariantB{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		log:      log,
	}
}

func (v *VariantB) InputRate() int  { return 24000 }
func (v *VariantB) OutputRate() int { return 24000 }

type vbSetup struct {
	Setup vbSetupBody `json:"setup"`
}

type vbSetupBody struct {
	Model              string             `json:"model"`
	GenerationConfig   vbGenerationConfig `json:"generationConfig"`
	SystemInstruction  vbTextParts        `json:"systemInstruction"`
}

type vbGenerationConfig struct {
	ResponseModalities []string         `json:"responseModalities"`
	SpeechConfig       vbSpeechConfig   `json:"speechConfig"`
}

type vbSpeechConfig struct {
	VoiceConfig vbVoiceConfig `json:"voiceConfig"`
}

type vbVoiceConfig struct {
	PrebuiltVoiceConfig vbPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type vbPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type vbTextParts struct {
	Parts []vbPart `json:"parts"`
}

type vbPart struct {
	Text string `json:"text,omitempty"`
}

type vbRealtimeInput struct {
	RealtimeInput vbRealtimeBody `json:"realtimeInput"`
}

type vbRealtimeBody struct {
	MediaChunks []vbMediaChunk `json:"mediaChunks"`
}

type vbMediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type vbClientContent struct {
	ClientContent vbClientContentBody `json:"clientContent"`
}

type vbClientContentBody struct {
	Turns            []vbTurn `json:"turns"`
	TurnComplete     bool     `json:"turnComplete"`
}

type vbTurn struct {
	Role  string   `json:"role"`
	Parts []vbPart `json:"parts"`
}

type vbServerMessage struct {
	ServerContent *vbServerContent `json:"serverContent"`
}

type vbServerContent struct {
	ModelTurn            *vbModelTurn `json:"modelTurn"`
	TurnComplete         bool         `json:"turnComplete"`
	InputTranscription   *vbTranscription `json:"inputTranscription"`
	OutputTranscription  *vbTranscription `json:"outputTranscription"`
}

type vbModelTurn struct {
	Parts []vbInlinePart `json:"parts"`
}

type vbInlinePart struct {
	InlineData *vbInlineData `json:"inlineData"`
}

type vbInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type vbTranscription struct {
	Text string `json:"text"`
}

// Connect dials the model endpoint and sends the one-time setup message
// (voice, instruction, audio response modality).
func (v *VariantB) Connect(ctx context.Context, systemInstruction, voice, initialPrompt string) error {
	url := fmt.Sprintf("%s?key=%s", v.endpoint, v.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("modelstream: variant B dial: %w", err)
	}

	v.mu.Lock()
	v.conn = conn
	v.events = make(chan Event, 64)
	v.audio = make(chan []byte, 256)
	v.userSpoke = false
	v.mu.Unlock()

	setup := vbSetup{Setup: vbSetupBody{
		Model: v.model,
		GenerationConfig: vbGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: vbSpeechConfig{
				VoiceConfig: vbVoiceConfig{
					PrebuiltVoiceConfig: vbPrebuiltVoice{VoiceName: voice},
				},
			},
		},
		SystemInstruction: vbTextParts{Parts: []vbPart{{Text: systemInstruction}}},
	}}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("modelstream: variant B setup: %w", err)
	}

	go v.sendPump()
	go v.receivePump()

	if initialPrompt != "" {
		if err := v.SendText(initialPrompt, true); err != nil {
			v.log.Warn("variant B: initial prompt failed: %v", err)
		}
	}
	return nil
}

func (v *VariantB) SendAudio(pcm16 []byte) error {
	v.mu.Lock()
	audio := v.audio
	v.mu.Unlock()
	if audio == nil {
		return fmt.Errorf("modelstream: variant B not connected")
	}
	audio <- pcm16
	return nil
}

func (v *VariantB) SendText(text string, endOfTurn bool) error {
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("modelstream: variant B not connected")
	}
	msg := vbClientContent{ClientContent: vbClientContentBody{
		Turns:        []vbTurn{{Role: "user", Parts: []vbPart{{Text: text}}}},
		TurnComplete: endOfTurn,
	}}
	v.mu.Lock()
	err := conn.WriteJSON(msg)
	v.mu.Unlock()
	if err != nil {
		return fmt.Errorf("modelstream: variant B send text: %w", err)
	}
	return nil
}

func (v *VariantB) Events() <-chan Event { return v.events }

// sendPump batches queued audio frames into one mediaChunks entry per
// realtimeInput message, mirroring variant A's coalescing policy.
func (v *VariantB) sendPump() {
	for {
		batch := drainBatch(v.audio)
		if batch == nil {
			return
		}
		msg := vbRealtimeInput{RealtimeInput: vbRealtimeBody{
			MediaChunks: []vbMediaChunk{{
				MimeType: "audio/pcm;rate=24000",
				Data:     base64.StdEncoding.EncodeToString(batch),
			}},
		}}
		v.mu.Lock()
		conn := v.conn
		v.mu.Unlock()
		if conn == nil {
			return
		}
		v.mu.Lock()
		err := conn.WriteJSON(msg)
		v.mu.Unlock()
		if err != nil {
			v.log.Warn("variant B: send audio failed: %v", err)
			return
		}
	}
}

func (v *VariantB) receivePump() {
	defer close(v.events)
	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg vbServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		content := msg.ServerContent
		if content == nil {
			continue
		}

		if content.InputTranscription != nil {
			v.mu.Lock()
			v.userSpoke = true
			v.userBuffer += content.InputTranscription.Text
			v.mu.Unlock()
			v.emit(Event{Kind: EventUserTranscriptDelta, Text: content.InputTranscription.Text})
		}

		if content.OutputTranscription != nil || content.ModelTurn != nil {
			v.flushUserTurnIfPending()
		}

		if content.OutputTranscription != nil {
			v.emit(Event{Kind: EventAssistantTranscriptDelta, Text: content.OutputTranscription.Text})
		}

		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.InlineData == nil {
					continue
				}
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err == nil {
					v.emit(Event{Kind: EventAudioDelta, Audio: decoded})
				}
			}
		}

		if content.TurnComplete {
			v.flushUserTurnIfPending()
			v.emit(Event{Kind: EventResponseDone})
		}
	}
}

// flushUserTurnIfPending emits the final user-turn event the first time
// an assistant fragment arrives after input transcription, since this
// vendor never reports the boundary itself.
func (v *VariantB) flushUserTurnIfPending() {
	v.mu.Lock()
	pending := v.userSpoke
	text := v.userBuffer
	v.userSpoke = false
	v.userBuffer = ""
	v.mu.Unlock()
	if pending {
		v.emit(Event{Kind: EventUserTranscriptFinal, Text: text})
	}
}

func (v *VariantB) emit(e Event) {
	select {
	case v.events <- e:
	case <-time.After(time.Second):
		v.log.Warn("variant B: event channel stalled, dropping %v", e.Kind)
	}
}

func (v *VariantB) Disconnect() error {
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
