package serializer

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-cache/types"
)

// Stored payloads carry a one-byte header so readers can tell a raw frame
// from a compressed one regardless of the writer's threshold settings.
const (
	frameRaw    byte = 0x00
	frameBrotli byte = 0x01
)

// CompressingSerializer wraps another serializer and compresses payloads
// that meet the configured size threshold. Small values are stored raw:
// compressing them costs more than it saves.
type CompressingSerializer struct {
	inner   types.Serializer
	minSize int
	quality int
}

func NewCompressingSerializer(inner types.Serializer, config *types.CompressionConfig) types.Serializer {
	minSize := 1024
	quality := 6

	if config != nil {
		if config.MinSize > 0 {
			minSize = config.MinSize
		}
		if config.Quality > 0 && config.Quality <= 11 {
			quality = config.Quality
		}
	}

	return &CompressingSerializer{
		inner:   inner,
		minSize: minSize,
		quality: quality,
	}
}

func (s *CompressingSerializer) Marshal(value interface{}) ([]byte, error) {
	data, err := s.inner.Marshal(value)
	if err != nil {
		return nil, err
	}

	if len(data) < s.minSize {
		framed := make([]byte, 0, len(data)+1)
		framed = append(framed, frameRaw)
		return append(framed, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameBrotli)

	w := brotli.NewWriterLevel(&buf, s.quality)
	if _, err := w.Write(data); err != nil {
		return nil, types.Errorf(types.ErrSerializationFailed, "compress: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, types.Errorf(types.ErrSerializationFailed, "compress close: %v", err)
	}

	return buf.Bytes(), nil
}

func (s *CompressingSerializer) Unmarshal(data []byte, target interface{}) error {
	if len(data) == 0 {
		return types.Errorf(types.ErrDeserializationFailed, "empty payload")
	}

	switch data[0] {
	case frameRaw:
		return s.inner.Unmarshal(data[1:], target)
	case frameBrotli:
		r := brotli.NewReader(bytes.NewReader(data[1:]))
		decoded, err := io.ReadAll(r)
		if err != nil {
			return types.Errorf(types.ErrDeserializationFailed, "decompress: %v", err)
		}
		return s.inner.Unmarshal(decoded, target)
	default:
		return types.Errorf(types.ErrDeserializationFailed, "unknown frame header 0x%02x", data[0])
	}
}

func (s *CompressingSerializer) ContentType() string {
	return s.inner.ContentType()
}
