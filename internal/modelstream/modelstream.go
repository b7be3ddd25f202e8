// Package modelstream abstracts the real-time speech-to-speech model
// connection over two concrete vendor protocols that differ only in how
// they signal turn boundaries: one with explicit server-side VAD events
// ("variant A"), the other by inferring the boundary from the next
// assistant transcript fragment ("variant B"). Callers only ever see the
// ModelStream interface.
package modelstream

import "context"

// EventKind discriminates the tagged Event union emitted on the stream's
// event channel.
type EventKind int

const (
	EventAudioDelta EventKind = iota
	EventAssistantTranscriptDelta
	EventUserTranscriptDelta
	EventUserTranscriptFinal
	EventUserSpeechStarted
	EventUserSpeechStopped
	EventResponseDone
	EventError
)

// Event is emitted by a ModelStream's receive loop. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind       EventKind
	Audio      []byte // EventAudioDelta: PCM16 at the stream's output rate
	Text       string // transcript-delta/final events
	ErrCode    string
	ErrMessage string
}

// ModelStream is the vendor-neutral capability set described in §4.3: the
// explicit interface that replaces dynamic duck-typing of model handlers.
type ModelStream interface {
	// Connect opens the session with a system instruction, voice, and an
	// optional initial prompt spoken/sent immediately after connect.
	Connect(ctx context.Context, systemInstruction, voice, initialPrompt string) error

	// SendAudio enqueues one PCM16 frame at InputRate() for transport to
	// the model; frames are internally batched (coalesced, order
	// preserved, no gaps) up to N≈10 per transport message.
	SendAudio(pcm16 []byte) error

	// SendText injects text into the caller-visible conversation. When
	// endOfTurn is true the model produces an audio response.
	SendText(text string, endOfTurn bool) error

	// Events returns the channel of inbound events, in arrival order.
	Events() <-chan Event

	// InputRate/OutputRate report the negotiated PCM16 sample rates for
	// audio sent to, and received from, the model.
	InputRate() int
	OutputRate() int

	// Disconnect closes the connection and stops all internal pumps.
	Disconnect() error
}

// maxBatch is N in "coalesce up to N consecutive queued frames" (§4.3).
const maxBatch = 10

// drainBatch blocks for the first queued frame, then greedily (without
// blocking) appends any additional immediately-available frames up to
// maxBatch, preserving arrival order. Returns nil once the queue is
// closed and drained.
func drainBatch(queue <-chan []byte) []byte {
	first, ok := <-queue
	if !ok {
		return nil
	}
	buf := make([]byte, 0, len(first)*maxBatch)
	buf = append(buf, first...)
	count := 1
	for count < maxBatch {
		select {
		case extra, ok := <-queue:
			if !ok {
				return buf
			}
			buf = append(buf, extra...)
			count++
		default:
			return buf
		}
	}
	return buf
}
