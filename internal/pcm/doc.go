// Package pcm converts between float audio samples and the little-endian
// 16-bit PCM wire format used by the live service.
//
// Encoding scales by 32768 and truncates without clamping, so a sample of
// exactly 1.0 wraps to -32768. Callers are expected to feed samples in
// [-1, 1). Decoding divides by 32768.
package pcm
