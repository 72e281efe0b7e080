package server

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// EncodingLZ4 marks a snapshot sent as base64 of a 4-byte little-endian
// uncompressed size followed by a raw lz4 block.
const EncodingLZ4 = "lz4"

// maxSnapshot bounds the declared uncompressed size.
const maxSnapshot = 256 << 20

// DecodeSnapshot returns the HTML carried by a snapshot field.
func DecodeSnapshot(data, encoding string) (string, error) {
	switch encoding {
	case "", "html":
		return data, nil
	case EncodingLZ4:
	default:
		return "", fmt.Errorf("snapshot: unknown encoding %q", encoding)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("snapshot: base64: %w", err)
	}
	const headerSize = 4
	if len(raw) < headerSize {
		return "", fmt.Errorf("snapshot: data too short (%d bytes)", len(raw))
	}
	size := binary.LittleEndian.Uint32(raw[:headerSize])
	if size > maxSnapshot {
		return "", fmt.Errorf("snapshot: declared size %d too large", size)
	}

	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(raw[headerSize:], dst)
	if err != nil {
		return "", fmt.Errorf("snapshot: decompress failed: %w", err)
	}
	return string(dst[:n]), nil
}

// EncodeSnapshot compresses html in the lz4 snapshot encoding.
func EncodeSnapshot(html string) (string, error) {
	src := []byte(html)
	buf := make([]byte, 4+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(buf, uint32(len(src)))
	n, err := lz4.CompressBlock(src, buf[4:], nil)
	if err != nil {
		return "", fmt.Errorf("snapshot: compress: %w", err)
	}
	if n == 0 && len(src) > 0 {
		return "", fmt.Errorf("snapshot: input not compressible")
	}
	return base64.StdEncoding.EncodeToString(buf[:4+n]), nil
}
