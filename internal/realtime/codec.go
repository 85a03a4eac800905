package realtime

import "fmt"

// Codec names the audio encoding negotiated for a connection.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"     // wide-band, 24kHz 16-bit mono
	CodecULaw  Codec = "g711_ulaw" // narrow-band, 8kHz
	CodecALaw  Codec = "g711_alaw" // narrow-band, 8kHz
)

// ParseCodec validates a codec name. Empty means PCM16.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecPCM16:
		return CodecPCM16, nil
	case CodecULaw, CodecALaw:
		return Codec(s), nil
	default:
		return "", fmt.Errorf("realtime: unsupported codec %q", s)
	}
}

// Wideband reports whether the codec is the wide-band option.
func (c Codec) Wideband() bool { return c == CodecPCM16 || c == "" }

// SampleRate returns the sample rate in Hz.
func (c Codec) SampleRate() int {
	if c.Wideband() {
		return 24000
	}
	return 8000
}

// BitsPerSample returns the encoded sample width.
func (c Codec) BitsPerSample() int {
	if c.Wideband() {
		return 16
	}
	return 8
}

// Apply writes the codec into both audio format fields of cfg.
func (c Codec) Apply(cfg *SessionConfig) {
	cfg.InputAudioFormat = string(c)
	cfg.OutputAudioFormat = string(c)
}
