package bridge

import (
	"context"

	"github.com/birddigital/callbridge/internal/logging"
)

// Transcriber turns one buffered utterance of PCM16 audio into text. An
// external batch transcription service sits behind this port; the
// model's own built-in transcription is the other strategy (ModelBuiltinSTT,
// which is simply "do nothing here" — the model stream's own transcript
// events are used instead).
type Transcriber interface {
	Transcribe(ctx context.Context, pcm16 []byte, sampleRate int) (string, error)
}

// minUtteranceMS is the shortest detected utterance, in milliseconds of
// audio, that is transcribed; anything shorter is treated as noise.
const minUtteranceMS = 300

// ExternalBatchSTT accumulates carrier audio and transcribes it once
// silence following speech is detected, bypassing the model's own
// transcript events entirely. Used when a deployment wants higher
// transcription accuracy than the model's built-in STT provides.
type ExternalBatchSTT struct {
	transcriber  Transcriber
	detector     *SilenceDetector
	sampleRate   int
	minBytes     int
	buffer       []byte
	onTranscript func(ctx context.Context, text string)
	log          *logging.Logger
}

// NewExternalBatchSTT builds a strategy feeding completed utterances to
// onTranscript.
func NewExternalBatchSTT(transcriber Transcriber, thresholdRMS float64, silenceDurationMS, sampleRate int, onTranscript func(ctx context.Context, text string), log *logging.Logger) *ExternalBatchSTT {
	return &ExternalBatchSTT{
		transcriber:  transcriber,
		detector:     NewSilenceDetector(thresholdRMS, silenceDurationMS, sampleRate),
		sampleRate:   sampleRate,
		minBytes:     minUtteranceMS * sampleRate * 2 / 1000,
		onTranscript: onTranscript,
		log:          log,
	}
}

// Feed buffers one chunk of PCM16 audio at sampleRate and, once the
// silence detector reports end-of-utterance, transcribes the buffered
// audio in the background and invokes onTranscript with the result.
func (s *ExternalBatchSTT) Feed(ctx context.Context, pcm16 []byte) {
	s.buffer = append(s.buffer, pcm16...)

	if !s.detector.Process(pcm16) {
		return
	}

	utterance := s.buffer
	s.buffer = nil
	s.detector.Reset()

	if len(utterance) < s.minBytes {
		return
	}

	go func() {
		text, err := s.transcriber.Transcribe(ctx, utterance, s.sampleRate)
		if err != nil {
			s.log.Warn("external STT: transcribe failed: %v", err)
			return
		}
		if text != "" {
			s.onTranscript(ctx, text)
		}
	}()
}
