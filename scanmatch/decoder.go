package scanmatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// maxInflatedBytes bounds the decompressed size of a map payload
var maxInflatedBytes int64 = maxMapBytes

// DecodeMapData decodes a Valetudo map payload. Valetudo publishes maps as
// PNG images carrying the JSON in a zTXt chunk; raw JSON and zlib-deflated
// JSON are accepted as well.
func DecodeMapData(data []byte) (*ValetudoMap, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty map payload")
	}

	var payload []byte
	var err error
	switch {
	case IsPNG(data):
		payload, err = pngMapJSON(data)
		if err != nil {
			return nil, fmt.Errorf("extracting PNG zTXt: %w", err)
		}
	case data[0] == '{':
		payload = data
	default:
		payload, err = inflate(data)
		if err != nil {
			return nil, fmt.Errorf("unknown format: not PNG, JSON, or zlib-compressed")
		}
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("decoded JSON payload is empty")
	}
	return ParseMapJSON(payload)
}

// IsPNG checks for the PNG signature
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// pngMapJSON walks the PNG chunks (length, type, data, CRC) and inflates the
// first zTXt chunk.
func pngMapJSON(data []byte) ([]byte, error) {
	rest := data[len(pngSignature):]
	for len(rest) >= 12 {
		n := int(binary.BigEndian.Uint32(rest[:4]))
		kind := string(rest[4:8])
		if 8+n+4 > len(rest) {
			return nil, fmt.Errorf("truncated PNG chunk %q", kind)
		}
		body := rest[8 : 8+n]

		switch kind {
		case "zTXt":
			// keyword NUL compression-method compressed-text
			sep := bytes.IndexByte(body, 0)
			if sep < 0 || sep+2 > len(body) {
				return nil, errors.New("malformed zTXt chunk")
			}
			if body[sep+1] != 0 {
				return nil, fmt.Errorf("unsupported zTXt compression method %d", body[sep+1])
			}
			return inflate(body[sep+2:])
		case "IEND":
			return nil, errors.New("no zTXt chunk found in PNG")
		}
		rest = rest[8+n+4:]
	}
	return nil, errors.New("no zTXt chunk found in PNG")
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("inflating: %w", err)
	}
	if int64(len(out)) > maxInflatedBytes {
		return nil, fmt.Errorf("inflated payload exceeds %d bytes", maxInflatedBytes)
	}
	return out, nil
}
