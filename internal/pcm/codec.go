package pcm

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/satriahrh/sahayak/domain/entities"
)

const scale = 32768.0

// EncodeFrame converts samples to little-endian 16-bit PCM.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

// toInt16 mirrors a typed-array store: truncate toward zero, wrap modulo 2^16.
func toInt16(s float32) int16 {
	v := float64(s) * scale
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int16(int64(math.Trunc(v)))
}

// DecodeFrame expands interleaved 16-bit PCM into per-channel float slices.
// A trailing partial frame is ignored.
func DecodeFrame(data []byte, sampleRate, channels int) entities.AudioBuffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	buf := entities.AudioBuffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(float64(v) / scale)
		}
	}
	return buf
}

// Resample converts buf to rate with linear interpolation. It returns buf
// unchanged when the rates already match.
func Resample(buf entities.AudioBuffer, rate int) entities.AudioBuffer {
	if rate <= 0 || buf.SampleRate <= 0 || buf.SampleRate == rate || buf.Length() == 0 {
		return buf
	}
	ratio := float64(buf.SampleRate) / float64(rate)
	n := int(math.Round(float64(buf.Length()) / ratio))
	out := entities.AudioBuffer{SampleRate: rate, Channels: make([][]float32, len(buf.Channels))}
	for ch, src := range buf.Channels {
		dst := make([]float32, n)
		last := len(src) - 1
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= last {
				dst[i] = src[last]
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j] + (src[j+1]-src[j])*frac
		}
		out.Channels[ch] = dst
	}
	return out
}

// ParseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000". It returns fallback when none is present.
func ParseRate(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
