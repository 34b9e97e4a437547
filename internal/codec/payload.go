package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrInflate indicates that the decoded bytes are not a valid compressed stream.
	ErrInflate = errors.New("codec: inflate failed")
	// ErrInvalidUTF8 indicates that the inflated payload is not UTF-8 text.
	ErrInvalidUTF8 = errors.New("codec: payload is not valid utf-8")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Decode turns an embedded blob back into its JSON or SVG text.
func Decode(encoded string) (string, error) {
	raw, err := DecodeBytes(encoded)
	if err != nil {
		return "", err
	}
	text, err := inflate(raw)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(text) {
		return "", ErrInvalidUTF8
	}
	return string(text), nil
}

// Encode compresses text at the best zlib level and packs it for embedding.
func Encode(text string) (string, error) {
	var buffer bytes.Buffer
	writer, err := zlib.NewWriterLevel(&buffer, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(writer, text); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return EncodeBytes(buffer.Bytes()), nil
}

// inflate reads one zlib or gzip stream; trailing padding after the stream is ignored.
func inflate(raw []byte) ([]byte, error) {
	var reader io.ReadCloser
	if bytes.HasPrefix(raw, gzipMagic) {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInflate, err)
		}
		gz.Multistream(false)
		reader = gz
	} else {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInflate, err)
		}
		reader = zr
	}
	defer reader.Close()

	text, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInflate, err)
	}
	return text, nil
}
