package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	compressThreshold = 1024

	envelopeVersion  byte = 1
	flagCompressed   byte = 1 << 4
	envelopeHeaderSz      = 9
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)

	errBadEnvelope = errors.New("cache: malformed payload")
)

// encode wraps value in the stored format: one header byte (version | flags),
// the store time as unix nanoseconds, then the payload, zstd-compressed when larger than 1 KB.
func encode(value []byte, storedAt time.Time) []byte {
	header := envelopeVersion
	payload := value
	if len(value) > compressThreshold {
		compressed := encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
		if len(compressed) < len(value) {
			payload = compressed
			header |= flagCompressed
		}
	}

	out := make([]byte, envelopeHeaderSz+len(payload))
	out[0] = header
	binary.BigEndian.PutUint64(out[1:envelopeHeaderSz], uint64(storedAt.UnixNano()))
	copy(out[envelopeHeaderSz:], payload)
	return out
}

func decode(raw []byte) ([]byte, time.Time, error) {
	if len(raw) < envelopeHeaderSz || raw[0]&0x0f != envelopeVersion {
		return nil, time.Time{}, errBadEnvelope
	}
	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[1:envelopeHeaderSz])))
	payload := raw[envelopeHeaderSz:]

	if raw[0]&flagCompressed == 0 {
		return payload, storedAt, nil
	}

	value, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("zstd decode: %w", err)
	}
	return value, storedAt, nil
}

func isCompressed(raw []byte) bool {
	return len(raw) > 0 && raw[0]&flagCompressed != 0
}
