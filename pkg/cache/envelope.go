package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/aretw0/kiln/internal/fsutil"
)

// On-disk layout of a cache file:
//
//	magic "KLNC" | format u8 | blake3(payload) [32]byte | payload length u64 | zstd(cbor(value))
//
// The checksum covers the uncompressed CBOR payload. A file that is cut short
// or altered fails verification and is treated as absent.
const (
	envelopeMagic   = "KLNC"
	envelopeFormat  = 1
	envelopeHeadLen = len(envelopeMagic) + 1 + 32 + 8
)

// ErrCorrupt is returned when a cache file fails verification.
var ErrCorrupt = errors.New("cache file corrupt")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	// Core Deterministic Encoding: same value, same bytes, same checksum.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// MarshalCanonical encodes v as deterministic CBOR.
func MarshalCanonical(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// EncodeEnvelope serializes v into a checksummed, compressed envelope.
func EncodeEnvelope(v any) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cache payload: %w", err)
	}

	sum := fsutil.DigestBytes(payload)

	var buf bytes.Buffer
	buf.Grow(envelopeHeadLen + len(payload)/2)
	buf.WriteString(envelopeMagic)
	buf.WriteByte(envelopeFormat)
	buf.Write(sum[:])
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(payload)))
	buf.Write(size[:])
	buf.Write(zstdEncoder.EncodeAll(payload, nil))

	return buf.Bytes(), nil
}

// DecodeEnvelope verifies data and decodes it into v. Any mismatch yields an
// error wrapping ErrCorrupt.
func DecodeEnvelope(data []byte, v any) error {
	if len(data) < envelopeHeadLen {
		return fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if string(data[:len(envelopeMagic)]) != envelopeMagic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	offset := len(envelopeMagic)
	if data[offset] != envelopeFormat {
		return fmt.Errorf("%w: unsupported format %d", ErrCorrupt, data[offset])
	}
	offset++

	var want fsutil.Digest
	copy(want[:], data[offset:offset+32])
	offset += 32

	size := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	payload, err := zstdDecoder.DecodeAll(data[offset:], make([]byte, 0, size))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(len(payload)) != size {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrCorrupt, len(payload), size)
	}
	if fsutil.DigestBytes(payload) != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// ReadEnvelopeFile loads v from path. A missing file reports found == false
// with no error.
func ReadEnvelopeFile(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache: %w", err)
	}
	if err := DecodeEnvelope(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// WriteEnvelopeFile atomically writes v to path, creating parent directories.
func WriteEnvelopeFile(path string, v any) error {
	data, err := EncodeEnvelope(v)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0644)
}
