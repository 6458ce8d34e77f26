package artifact

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// zstdMagic is the frame header of a zstd compressed artifact.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxDecodedSize bounds the decompressed size of an artifact.
const maxDecodedSize = 32 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifact: CBOR encoder initialization failed: " + err.Error())
	}

	// Artifacts never use non-string map keys. Values decoded into any
	// must be usable with encoding/json when they are published, which
	// only marshals *big.Int as a number.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("artifact: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// DecodeError is returned when stored bytes cannot be turned into an artifact.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to decode artifact: %s", e.Reason)
	}
	return fmt.Sprintf("failed to decode artifact: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses stored bytes, decompressing them first when they carry a
// zstd frame header.
func Decode(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty content"}
	}

	data := raw
	if bytes.HasPrefix(raw, zstdMagic) {
		var err error
		data, err = zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid zstd frame", Err: err}
		}
	}

	var doc Document
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Reason: "invalid cbor content", Err: err}
	}
	if doc.Metadata.Suite == "" || doc.Metadata.Testcase == "" {
		return nil, &DecodeError{Reason: "metadata is missing suite or testcase"}
	}
	return &doc, nil
}

// Encode returns the stored form of doc.
func Encode(doc *Document, compress bool) ([]byte, error) {
	data, err := encMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	if compress {
		return zstdEncoder.EncodeAll(data, nil), nil
	}
	return data, nil
}

// Digest returns the hex encoded blake3 sum of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
