package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// pcmScale maps the float range [-1, 1) onto the signed 16-bit range.
const pcmScale = 32768

// ErrOddLength is returned when a PCM16 payload does not hold a whole number
// of samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// Blob is an encoded audio chunk as exchanged with realtime speech services:
// base64 little-endian PCM16 tagged with a MIME-style format descriptor.
type Blob struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64 (standard encoding) PCM16 payload.
	Data string
}

// FloatToPCM16 converts float samples to little-endian signed 16-bit PCM.
//
// Samples are scaled by 32768 and truncated towards zero. Values outside
// [-1, 1] saturate at the int16 limits instead of wrapping; NaN becomes 0.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM to float samples in
// [-1, 1). It returns [ErrOddLength] when len(pcm) is odd.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / pcmScale
	}
	return out, nil
}

func floatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	}
	return int16(s * pcmScale)
}

// EncodeBlob converts one captured block of float samples into a wire
// [Blob] for format f.
func EncodeBlob(samples []float32, f Format) Blob {
	return Blob{
		MIMEType: f.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
	}
}

// EncodePCM wraps already-encoded PCM16 bytes as a [Blob] for format f.
func EncodePCM(pcm []byte, f Format) Blob {
	return Blob{
		MIMEType: f.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodePCM returns the raw PCM16 bytes carried by b.
func (b Blob) DecodePCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return pcm, nil
}

// DecodePayload turns a base64 PCM16 payload into float samples. Empty
// payloads, invalid base64, and odd byte counts are all errors.
func DecodePayload(data string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("audio: empty payload")
	}
	return PCM16ToFloat(pcm)
}

// ParseMIMEType parses a descriptor such as "audio/pcm;rate=24000" into a
// mono [Format]. It reports false for anything that is not rate-tagged PCM.
func ParseMIMEType(mime string) (Format, bool) {
	base, params, ok := strings.Cut(mime, ";")
	if !ok || strings.TrimSpace(base) != "audio/pcm" {
		return Format{}, false
	}
	for p := range strings.SplitSeq(params, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		if k != "rate" {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return Format{}, false
		}
		return Format{SampleRate: rate, Channels: 1}, true
	}
	return Format{}, false
}
