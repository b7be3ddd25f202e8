package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/birddigital/callbridge/internal/logging"
)

const (
	whisperEndpoint = "https://api.openai.com/v1/audio/transcriptions"
	whisperModel    = "whisper-1"
	whisperTimeout  = 30 * time.Second

	pcmBitsPerSample = 16
	pcmChannels      = 1
)

// WhisperTranscriber implements Transcriber against OpenAI's batch Whisper
// endpoint, for deployments that want more accurate transcription than a
// model stream's own built-in STT — proper nouns and specialized terms in
// particular.
type WhisperTranscriber struct {
	apiKey string
	client *http.Client
	log    *logging.Logger
}

// NewWhisperTranscriber builds a Transcriber posting to OpenAI with apiKey.
func NewWhisperTranscriber(apiKey string, log *logging.Logger) *WhisperTranscriber {
	return &WhisperTranscriber{
		apiKey: apiKey,
		client: &http.Client{Timeout: whisperTimeout},
		log:    log,
	}
}

// Transcribe wraps pcm16 in a WAV container and posts it as a multipart
// form to the Whisper endpoint, returning the trimmed transcript text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, pcm16 []byte, sampleRate int) (string, error) {
	wav := encodeWAV(pcm16, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("model", whisperModel); err != nil {
		return "", fmt.Errorf("whisper: write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, whisperEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("whisper: parse response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// encodeWAV wraps 16-bit signed little-endian mono PCM in a RIFF/WAV
// container, the format the Whisper endpoint expects.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * pcmChannels * pcmBitsPerSample / 8
	blockAlign := pcmChannels * pcmBitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(pcmChannels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(pcmBitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
