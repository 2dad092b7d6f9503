package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/olapcache/codec"
	"github.com/hupe1980/olapcache/internal/compress"
	"github.com/hupe1980/olapcache/segment"
)

// ErrCorruptEntry is returned when a stored entry cannot be decoded.
var ErrCorruptEntry = errors.New("cache: corrupt entry")

var entryMagic = [4]byte{'O', 'S', 'E', 'G'}

const (
	entryVersion    = 1
	entryPrefixSize = 9 // magic, version, header length
)

// Encoding turns segments into bytes for remote backends.
// Headers and bodies use separate codecs; bodies are compressed.
type Encoding struct {
	header      codec.Codec
	body        codec.Codec
	compression compress.Type
}

// DefaultEncoding uses go-json for headers, msgpack for bodies and zstd.
func DefaultEncoding() Encoding {
	return Encoding{header: codec.Default, body: codec.DefaultBody, compression: compress.ZSTD}
}

// NewEncoding returns an encoding. compression is one of "none", "lz4" or "zstd".
func NewEncoding(header, body codec.Codec, compression string) (Encoding, error) {
	t, err := compress.ParseType(compression)
	if err != nil {
		return Encoding{}, err
	}
	if header == nil {
		header = codec.Default
	}
	if body == nil {
		body = codec.DefaultBody
	}
	return Encoding{header: header, body: body, compression: t}, nil
}

// String describes the encoding, e.g. "go-json/msgpack+zstd".
func (e Encoding) String() string {
	return fmt.Sprintf("%s/%s+%s", e.header.Name(), e.body.Name(), e.compression)
}

// EncodeHeader encodes h.
func (e Encoding) EncodeHeader(h *segment.Header) ([]byte, error) {
	return segment.MarshalHeader(e.header, h)
}

// DecodeHeader decodes a header and registers its columns in reg.
func (e Encoding) DecodeHeader(reg *segment.Registry, data []byte) (*segment.Header, error) {
	h, err := segment.UnmarshalHeader(e.header, reg, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return h, nil
}

// EncodeBody encodes and compresses b.
func (e Encoding) EncodeBody(b *segment.Body) ([]byte, error) {
	raw, err := segment.MarshalBody(e.body, b)
	if err != nil {
		return nil, err
	}
	return compress.Compress(raw, e.compression)
}

// DecodeBody decompresses and decodes a body.
func (e Encoding) DecodeBody(data []byte) (*segment.Body, error) {
	raw, err := compress.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	b, err := segment.UnmarshalBody(e.body, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return b, nil
}

// EncodeEntry packs header and body into one blob:
// magic, version, header length (uint32 LE), header, compressed body.
func (e Encoding) EncodeEntry(h *segment.Header, b *segment.Body) ([]byte, error) {
	hdr, err := e.EncodeHeader(h)
	if err != nil {
		return nil, err
	}
	body, err := e.EncodeBody(b)
	if err != nil {
		return nil, err
	}

	out := make([]byte, entryPrefixSize, entryPrefixSize+len(hdr)+len(body))
	copy(out, entryMagic[:])
	out[4] = entryVersion
	binary.LittleEndian.PutUint32(out[5:], uint32(len(hdr)))
	out = append(out, hdr...)
	return append(out, body...), nil
}

// entryHeaderLen validates the entry prefix and returns the header length.
func entryHeaderLen(prefix []byte) (int, error) {
	if len(prefix) < entryPrefixSize || !bytes.Equal(prefix[:4], entryMagic[:]) {
		return 0, fmt.Errorf("%w: bad magic", ErrCorruptEntry)
	}
	if prefix[4] != entryVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptEntry, prefix[4])
	}
	return int(binary.LittleEndian.Uint32(prefix[5:])), nil
}

// DecodeEntry unpacks a blob produced by EncodeEntry.
func (e Encoding) DecodeEntry(reg *segment.Registry, data []byte) (*segment.Header, *segment.Body, error) {
	n, err := entryHeaderLen(data)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < entryPrefixSize+n {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrCorruptEntry)
	}
	h, err := e.DecodeHeader(reg, data[entryPrefixSize:entryPrefixSize+n])
	if err != nil {
		return nil, nil, err
	}
	b, err := e.DecodeBody(data[entryPrefixSize+n:])
	if err != nil {
		return nil, nil, err
	}
	return h, b, nil
}
