// Package snapshot persists encoded full-state snapshots, one row per room
// code, with save throttling and a hard encoded-size limit. The world state
// itself is opaque here; a Codec turns it into a URI-safe string and back.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// Codec converts a world state to a text-safe encoded form and back.
type Codec interface {
	Encode(state any) (string, error)
	Decode(encoded string, out any) error
}

// GzipCodec encodes JSON, compresses it, and emits URL-safe base64. It is
// the default codec; callers with their own serializer inject a replacement.
type GzipCodec struct{}

func (GzipCodec) Encode(state any) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func (GzipCodec) Decode(encoded string, out any) error {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := zr.Close(); err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}
