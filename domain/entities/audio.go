package entities

import "strconv"

// AudioChunk is an encoded block of little-endian 16-bit PCM travelling
// between the microphone, the remote session and the speaker.
// A chunk is never mutated after it is produced.
type AudioChunk struct {
	Data       []byte `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// MIMEType returns the wire MIME type for the chunk, e.g. "audio/pcm;rate=16000".
func (c AudioChunk) MIMEType() string {
	return "audio/pcm;rate=" + strconv.Itoa(c.SampleRate)
}

// Frames returns the number of sample frames held by the chunk.
func (c AudioChunk) Frames() int {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return len(c.Data) / (2 * channels)
}

// AudioBuffer is decoded, de-interleaved float audio ready to be played.
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// Length returns the number of frames per channel.
func (b AudioBuffer) Length() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b AudioBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Length()) / float64(b.SampleRate)
}
