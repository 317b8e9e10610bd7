package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression identifies how a data blob is compressed. The value is the
// first byte of every blob, so the numbers must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name from config.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// Hash is the BLAKE3 digest of a record's canonical data.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

var errCorruptBlob = errors.New("store: corrupt blob")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	cborEnc     cbor.EncMode
	cborDec     cbor.DecMode
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// Canonical re-encodes JSON with sorted object keys and no insignificant
// whitespace. Numbers keep their original text.
func Canonical(data json.RawMessage) (json.RawMessage, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("store: canonicalize: %w", err)
	}
	return json.Marshal(v)
}

// Fingerprint returns the hash of the canonical form of data.
func Fingerprint(data json.RawMessage) (Hash, error) {
	canon, err := Canonical(data)
	if err != nil {
		return Hash{}, err
	}
	return blake3.Sum256(canon), nil
}

// Codec turns record data into compressed blobs and whole records into
// self-describing CBOR values for key/value backends.
type Codec struct {
	compression Compression
}

// NewCodec creates a codec that compresses with c.
func NewCodec(c Compression) *Codec {
	return &Codec{compression: c}
}

// Pack canonicalizes data and compresses it. The blob layout is one
// compression byte, the uncompressed length as a uvarint, then the payload.
func (c *Codec) Pack(data json.RawMessage) ([]byte, Hash, error) {
	canon, err := Canonical(data)
	if err != nil {
		return nil, Hash{}, err
	}
	sum := blake3.Sum256(canon)

	tag := c.compression
	var payload []byte
	switch tag {
	case CompressionZstd:
		payload = zstdEncoder.EncodeAll(canon, nil)
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(canon)))
		n, err := lz4.CompressBlock(canon, dst, nil)
		if err != nil {
			return nil, Hash{}, fmt.Errorf("lz4 compress: %w", err)
		}
		payload = dst[:n]
	}
	// Incompressible input is stored raw.
	if len(payload) == 0 || len(payload) >= len(canon) {
		tag, payload = CompressionNone, canon
	}

	blob := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	blob = append(blob, byte(tag))
	blob = binary.AppendUvarint(blob, uint64(len(canon)))
	blob = append(blob, payload...)
	return blob, sum, nil
}

// Unpack reverses Pack.
func (c *Codec) Unpack(blob []byte) (json.RawMessage, error) {
	if len(blob) < 2 {
		return nil, errCorruptBlob
	}
	tag := Compression(blob[0])
	size, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return nil, errCorruptBlob
	}
	payload := blob[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("%w: size %d, want %d", errCorruptBlob, len(payload), size)
		}
		return append(json.RawMessage(nil), payload...), nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("%w: size %d, want %d", errCorruptBlob, len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("%w: size %d, want %d", errCorruptBlob, read, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compression %d", errCorruptBlob, tag)
	}
}

// envelope is the CBOR form of a record in key/value backends.
type envelope struct {
	Blob           []byte `cbor:"1,keyasint"`
	Version        int64  `cbor:"2,keyasint"`
	LastModified   int64  `cbor:"3,keyasint"`
	LastModifiedBy string `cbor:"4,keyasint,omitempty"`
	Hash           []byte `cbor:"5,keyasint"`
}

// MarshalRecord encodes rec as deterministic CBOR.
func (c *Codec) MarshalRecord(rec Record) ([]byte, Hash, error) {
	blob, sum, err := c.Pack(rec.Data)
	if err != nil {
		return nil, Hash{}, err
	}
	out, err := cborEnc.Marshal(envelope{
		Blob:           blob,
		Version:        rec.Version,
		LastModified:   rec.LastModified,
		LastModifiedBy: rec.LastModifiedBy,
		Hash:           sum[:],
	})
	if err != nil {
		return nil, Hash{}, fmt.Errorf("store: encode record: %w", err)
	}
	return out, sum, nil
}

// UnmarshalRecord decodes a value written by MarshalRecord and verifies
// its hash.
func (c *Codec) UnmarshalRecord(b []byte) (*Record, error) {
	var env envelope
	if err := cborDec.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	data, err := c.Unpack(env.Blob)
	if err != nil {
		return nil, err
	}
	if len(env.Hash) > 0 {
		sum := blake3.Sum256(data)
		if !bytes.Equal(sum[:], env.Hash) {
			return nil, fmt.Errorf("%w: hash mismatch", errCorruptBlob)
		}
	}
	return &Record{
		Data:           data,
		Version:        env.Version,
		LastModified:   env.LastModified,
		LastModifiedBy: env.LastModifiedBy,
	}, nil
}
