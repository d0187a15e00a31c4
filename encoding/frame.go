package encoding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frame header bytes. Every frame starts with exactly one of these.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// DefaultCompressThreshold is the payload size above which frames are compressed.
const DefaultCompressThreshold = 1024

var (
	// ErrEmptyFrame is returned when decoding a zero-length frame
	ErrEmptyFrame = errors.New("empty frame")

	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func initZstd() {
	zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if zstdInitErr != nil {
		return
	}
	zstdDecoder, zstdInitErr = zstd.NewReader(nil)
}

// EncodeFrame marshals v to msgpack and wraps it in a frame. Payloads larger
// than threshold are zstd-compressed. A threshold <= 0 disables compression.
func EncodeFrame(v interface{}, threshold int) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame payload: %w", err)
	}

	if threshold <= 0 || len(payload) <= threshold {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...), nil
	}

	zstdOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, fmt.Errorf("failed to initialize zstd: %w", zstdInitErr)
	}

	out := make([]byte, 1, len(payload)/2+1)
	out[0] = frameZstd
	return zstdEncoder.EncodeAll(payload, out), nil
}

// DecodeFrame reverses EncodeFrame into v.
func DecodeFrame(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}

	switch data[0] {
	case frameRaw:
		return Unmarshal(data[1:], v)
	case frameZstd:
		zstdOnce.Do(initZstd)
		if zstdInitErr != nil {
			return fmt.Errorf("failed to initialize zstd: %w", zstdInitErr)
		}
		payload, err := zstdDecoder.DecodeAll(data[1:], nil)
		if err != nil {
			return fmt.Errorf("failed to decompress frame: %w", err)
		}
		return Unmarshal(payload, v)
	default:
		return fmt.Errorf("unknown frame header 0x%02x", data[0])
	}
}
