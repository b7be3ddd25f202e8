package bridge

import "math"

// SilenceDetector tracks whether speech has stopped for long enough to
// consider an utterance complete, grounded on the RMS-threshold silence
// detector used to gate batch transcription in the original bridge.
type SilenceDetector struct {
	thresholdRMS       float64
	silenceSamples     int
	sampleRate         int
	consecutiveSilence int
	hasSpeech          bool
}

// NewSilenceDetector builds a detector for mono PCM16 audio at
// sampleRate. thresholdRMS is the RMS level below which a sample is
// considered silence; silenceDurationMS is how long silence must persist
// after speech before Process reports end-of-utterance.
func NewSilenceDetector(thresholdRMS float64, silenceDurationMS, sampleRate int) *SilenceDetector {
	return &SilenceDetector{
		thresholdRMS:   thresholdRMS,
		silenceSamples: silenceDurationMS * sampleRate / 1000,
		sampleRate:     sampleRate,
	}
}

func rms(pcm16 []byte) float64 {
	n := len(pcm16) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm16[i*2]) | uint16(pcm16[i*2+1])<<8)
		sumSquares += float64(sample) * float64(sample)
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Process feeds one chunk of PCM16 audio and returns true once silence
// has persisted for silenceDurationMS after speech was observed, and
// keeps returning true for further silent chunks until Reset is called.
// Returns false while still silent before any speech, while speaking, or
// during a silence gap shorter than the configured duration.
func (d *SilenceDetector) Process(pcm16 []byte) bool {
	level := rms(pcm16)
	samples := len(pcm16) / 2

	if level >= d.thresholdRMS {
		d.hasSpeech = true
		d.consecutiveSilence = 0
		return false
	}

	if !d.hasSpeech {
		return false
	}

	d.consecutiveSilence += samples
	return d.consecutiveSilence >= d.silenceSamples
}

// Reset clears accumulated state for the next utterance.
func (d *SilenceDetector) Reset() {
	d.hasSpeech = false
	d.consecutiveSilence = 0
}
