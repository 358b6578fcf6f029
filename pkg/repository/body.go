// ABOUTME: Record body encoding: JSON compressed with zstd or lz4
// ABOUTME: Header is [codec uint8][uncompressed size uint32 LE]

package repository

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/nainya/recordindex/pkg/schema"
)

// Compression selects the record body codec
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a configuration name to a codec
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZSTD, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

const bodyHeaderSize = 5

var errCorruptBody = errors.New("corrupt record body")

// Encoder.EncodeAll and Decoder.DecodeAll are safe for concurrent use, so one of each is shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// encodeBody serializes rec. Small or incompressible bodies are stored uncompressed.
func encodeBody(rec *schema.Record, c Compression) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	compressed, used, err := compress(data, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, bodyHeaderSize, bodyHeaderSize+len(compressed))
	out[0] = byte(used)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	return append(out, compressed...), nil
}

// compress returns data encoded with c, or data itself with CompressionNone
// when the codec does not make it smaller.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var compressed []byte
	switch c {
	case CompressionZSTD:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("compress record: %w", err)
		}
		compressed = enc.EncodeAll(data, nil)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("compress record: %w", err)
		}
		// n == 0 means lz4 found nothing to compress
		if n == 0 {
			return data, CompressionNone, nil
		}
		compressed = buf[:n]
	default:
		return data, CompressionNone, nil
	}
	if len(compressed) >= len(data) {
		return data, CompressionNone, nil
	}
	return compressed, c, nil
}

// decodeBody reverses encodeBody. Numbers come back as int64 when integral, else float64.
func decodeBody(body []byte) (*schema.Record, error) {
	if len(body) < bodyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", errCorruptBody, len(body))
	}
	size := binary.LittleEndian.Uint32(body[1:])
	payload := body[bodyHeaderSize:]

	var data []byte
	switch Compression(body[0]) {
	case CompressionNone:
		data = payload
	case CompressionLZ4:
		data = make([]byte, size)
		n, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptBody, err)
		}
		data = data[:n]
	case CompressionZSTD:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("decompress record: %w", err)
		}
		data, err = dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptBody, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", errCorruptBody, body[0])
	}
	if uint32(len(data)) != size {
		return nil, fmt.Errorf("%w: size mismatch", errCorruptBody)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec schema.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptBody, err)
	}
	for name, v := range rec.Fields {
		rec.Fields[name] = fromWire(v)
	}
	return &rec, nil
}

func fromWire(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = fromWire(x[i])
		}
		return x
	default:
		return v
	}
}
