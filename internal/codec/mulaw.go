// Package codec implements μ-law/PCM16 conversion and resampling between
// the telephony carrier's native format (8 kHz μ-law) and the real-time
// model's native formats (16 kHz or 24 kHz PCM16).
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes a single audio stream's sample encoding.
type Format struct {
	Encoding   string // "mulaw" or "pcm16"
	SampleRate int
	Channels   int // always 1 in this system
}

var (
	FormatMulaw8k = Format{Encoding: "mulaw", SampleRate: 8000, Channels: 1}
	FormatPCM16k  = Format{Encoding: "pcm16", SampleRate: 16000, Channels: 1}
	FormatPCM24k  = Format{Encoding: "pcm16", SampleRate: 24000, Channels: 1}
)

// MulawToPCM16 expands each 8-bit μ-law sample to a signed 16-bit linear
// PCM sample using the standard ITU-T G.711 μ-law table.
func MulawToPCM16(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		sample := decodeMulawByte(b)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(sample))
	}
	return pcm
}

func decodeMulawByte(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := sign * ((((int16(mantissa) << 3) + 0x84) << exponent) - 0x84)
	return sample
}

// PCM16ToMulaw compresses signed 16-bit linear PCM to 8-bit μ-law.
// A trailing odd byte (not a full 16-bit sample) is truncated silently,
// matching common telephony practice.
func PCM16ToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = linearToMulaw(sample)
	}
	return out
}

func linearToMulaw(sample int16) byte {
	sign := int16(1)
	if sample < 0 {
		sign = -1
		if sample < -32635 {
			sample = -32635
		}
		sample = -sample
	}
	if sample > 32635 {
		sample = 32635
	}
	sample += 0x84 // G.711 bias; 32635+0x84 still fits in int16

	exponent := int16(7)
	for exp := int16(0); exp < 7; exp++ {
		if sample < (int16(1) << (exp + 8)) {
			exponent = exp
			break
		}
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	mulawByte := byte((exponent << 4) | mantissa)
	if sign < 0 {
		mulawByte |= 0x80
	}
	return mulawByte ^ 0xFF
}

// DurationMS returns the playback duration, in milliseconds, of a PCM16
// buffer at the given sample rate.
func DurationMS(pcm16 []byte, sampleRate int) float64 {
	samples := len(pcm16) / 2
	return float64(samples) / float64(sampleRate) * 1000.0
}

// ApplyGain scales PCM16 samples by a gain factor, clamping to the 16-bit
// range.
func ApplyGain(pcm []byte, gain float64) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("codec: PCM16 buffer length must be even, got %d", len(pcm))
	}
	out := make([]byte, len(pcm))
	for i := 0; i < len(pcm)/2; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		amplified := clampToInt16(float64(sample) * gain)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(amplified))
	}
	return out, nil
}

// MixAudio sums multiple equal-length PCM16 buffers, averaging and
// clamping to the 16-bit range.
func MixAudio(streams ...[]byte) ([]byte, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("codec: no audio streams provided")
	}
	length := len(streams[0])
	for _, s := range streams {
		if len(s) != length {
			return nil, fmt.Errorf("codec: all streams must share length")
		}
	}
	if length%2 != 0 {
		return nil, fmt.Errorf("codec: PCM16 buffer length must be even")
	}
	out := make([]byte, length)
	for i := 0; i < length/2; i++ {
		var sum int32
		for _, s := range streams {
			sum += int32(int16(binary.LittleEndian.Uint16(s[i*2 : i*2+2])))
		}
		avg := clampToInt16(float64(sum) / float64(len(streams)))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(avg))
	}
	return out, nil
}

// SplitBuffer slices a buffer into fixed-size chunks (the final chunk may
// be shorter).
func SplitBuffer(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = 320
	}
	var chunks [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

// ConcatBuffers concatenates byte buffers in order.
func ConcatBuffers(buffers [][]byte) []byte {
	var buf bytes.Buffer
	for _, b := range buffers {
		buf.Write(b)
	}
	return buf.Bytes()
}

func clampToInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
