package codec

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestMulawRoundTripSilence(t *testing.T) {
	mulaw := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	pcm := MulawToPCM16(mulaw)
	for i := 0; i < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		if sample != 0 {
			t.Fatalf("expected silence sample 0 at %d, got %d", i, sample)
		}
	}
	back := PCM16ToMulaw(pcm)
	for i, b := range back {
		if b != 0xFF {
			t.Fatalf("round trip byte %d = %#x, want 0xFF", i, b)
		}
	}
}

func TestMulawRoundTripBounded(t *testing.T) {
	for _, sample := range []int16{0, 100, -100, 1000, -1000, 32000, -32000, 32767, -32768} {
		pcm := make([]byte, 2)
		binary.LittleEndian.PutUint16(pcm, uint16(sample))
		mulaw := PCM16ToMulaw(pcm)
		back := MulawToPCM16(mulaw)
		got := int16(binary.LittleEndian.Uint16(back))
		diff := int(sample) - int(got)
		if diff < 0 {
			diff = -diff
		}
		// mu-law is lossy; bounded error grows with magnitude, but stays
		// within a few percent of the sample value for representable range.
		if diff > 2000 {
			t.Fatalf("sample %d round-tripped to %d (diff %d), too large", sample, got, diff)
		}
	}
}

func TestResampleIdentity(t *testing.T) {
	for _, rate := range []int{8000, 16000, 24000} {
		samples := make([]byte, 32)
		for i := 0; i < 16; i++ {
			binary.LittleEndian.PutUint16(samples[i*2:i*2+2], uint16(int16(i*100-800)))
		}
		r := NewResampler(rate, rate, QualityHQ)
		out, err := r.Process(samples)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if string(out) != string(samples) {
			t.Fatalf("resample(x, %d, %d) != x", rate, rate)
		}
	}
}

func TestDurationPreservation(t *testing.T) {
	// 100ms of mu-law silence at 8kHz = 800 bytes (8000 samples/sec * 0.1s).
	mulaw := make([]byte, 800)
	for i := range mulaw {
		mulaw[i] = 0xFF
	}
	pcm8k := MulawToPCM16(mulaw)

	r := NewResampler(8000, 16000, QualityHQ)
	pcm16k, err := r.Process(pcm8k)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	duration := DurationMS(pcm16k, 16000)
	if math.Abs(duration-100.0) > 5.0 {
		t.Fatalf("duration = %.2fms, want ~100ms", duration)
	}
}

func TestSineConversionPreservesFrequency(t *testing.T) {
	const inRate = 8000
	const outRate = 16000
	const freq = 440.0
	const durationMS = 50
	numSamples := inRate * durationMS / 1000

	pcm := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(inRate))
		sample := int16(v * 10000)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(sample))
	}

	r := NewResampler(inRate, outRate, QualityHQ)
	out, err := r.Process(pcm)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantLen := numSamples * (outRate / inRate) * 2
	if abs(len(out)-wantLen) > 20 {
		t.Fatalf("output length = %d bytes, want ~%d", len(out), wantLen)
	}

	freqOut := dominantFrequency(out, outRate)
	if math.Abs(freqOut-freq) > 5 {
		t.Fatalf("dominant frequency = %.1fHz, want ~%.1fHz", freqOut, freq)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// dominantFrequency finds the loudest bin via a naive DFT; good enough for
// a short test buffer without pulling in an FFT dependency.
func dominantFrequency(pcm []byte, sampleRate int) float64 {
	n := len(pcm) / 2
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
	}

	bestFreq := 0.0
	bestMag := -1.0
	for f := 50.0; f <= 2000.0; f += 5.0 {
		var real, imag float64
		for i, s := range samples {
			angle := 2 * math.Pi * f * float64(i) / float64(sampleRate)
			real += s * math.Cos(angle)
			imag -= s * math.Sin(angle)
		}
		mag := real*real + imag*imag
		if mag > bestMag {
			bestMag = mag
			bestFreq = f
		}
	}
	return bestFreq
}

func TestApplyGain(t *testing.T) {
	pcm := make([]byte, 4)
	pos, neg := int16(1000), int16(-1000)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(pos))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(neg))

	out, err := ApplyGain(pcm, 2.0)
	if err != nil {
		t.Fatalf("ApplyGain: %v", err)
	}
	s0 := int16(binary.LittleEndian.Uint16(out[0:2]))
	s1 := int16(binary.LittleEndian.Uint16(out[2:4]))
	if s0 != 2000 || s1 != -2000 {
		t.Fatalf("got (%d, %d), want (2000, -2000)", s0, s1)
	}
}

func TestSplitAndConcatBuffer(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	chunks := SplitBuffer(data, 320)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	joined := ConcatBuffers(chunks)
	if string(joined) != string(data) {
		t.Fatalf("concat(split(x)) != x")
	}
}
