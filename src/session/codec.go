package session

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
)

const (
	formatJSON byte = 'J'
	formatGzip byte = 'Z'
)

// encode serializes a session, compressing it once it grows past threshold bytes.
func encode(s Session, compress bool, threshold int) ([]byte, error) {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	if !compress || len(raw) < threshold {
		return append([]byte{formatJSON}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(formatGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress session: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress session: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Session, error) {
	var s Session
	if len(data) == 0 {
		return s, fmt.Errorf("empty session payload")
	}

	var raw []byte
	switch data[0] {
	case formatJSON:
		raw = data[1:]
	case formatGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return s, fmt.Errorf("failed to open compressed session: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return s, fmt.Errorf("failed to decompress session: %w", err)
		}
	case '{':
		// plain JSON written without a marker
		raw = data
	default:
		return s, fmt.Errorf("unknown session format marker %q", data[0])
	}

	if err := sonic.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.UserID == "" {
		return s, fmt.Errorf("session payload has no user id")
	}
	if s.Data == nil {
		s.Data = map[string]any{}
	}
	if s.StateData == nil {
		s.StateData = map[string]any{}
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	return s, nil
}
