package codec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"
)

func TestDecodeBytesKnownVectors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    []byte
	}{
		{name: "zero", encoded: "0000000", want: []byte{0, 0, 0, 0, 0, 0}},
		{name: "one", encoded: "0000001", want: []byte{0, 0, 0, 0, 0, 1}},
		{name: "radix", encoded: "0000010", want: []byte{0, 0, 0, 0, 0, 116}},
		{name: "max", encoded: "\x7fzjR_ p", want: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{name: "ascii", encoded: "W<\x13L \x0cn", want: []byte("Hello!")},
		{name: "two-chunks", encoded: "ms\x16\x15;nz0000001", want: []byte("kicad1\x00\x00\x00\x00\x00\x01")},
		{name: "empty", encoded: "", want: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBytes(tt.encoded)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("decoded %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeBytesMatchesKnownVectors(t *testing.T) {
	if got := EncodeBytes([]byte("Hello!")); got != "W<\x13L \x0cn" {
		t.Fatalf("unexpected encoding %q", got)
	}
	if got := EncodeBytes([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}); got != "\x7fzjR_ p" {
		t.Fatalf("unexpected encoding %q", got)
	}
	if got := EncodeBytes([]byte{1}); got != EncodeBytes([]byte{1, 0, 0, 0, 0, 0}) {
		t.Fatalf("expected short input to be zero padded, got %q", got)
	}
}

func TestDecodeBytesRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    error
	}{
		{name: "short", encoded: "000000", want: ErrInvalidLength},
		{name: "slash", encoded: "000/000", want: ErrInvalidSymbol},
		{name: "newline", encoded: "000\n000", want: ErrInvalidSymbol},
		{name: "non-ascii", encoded: "00000\xc3\xa9", want: ErrInvalidSymbol},
		{name: "overflow", encoded: "\x7f\x7f\x7f\x7f\x7f\x7f\x7f", want: ErrChunkOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBytes(tt.encoded)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeRoundTripsText(t *testing.T) {
	text := `{"pages":[{"id":"top","name":"Top","pn":"1"}],"comps":{"U1":[{"Value":"MCU"}]}}`
	encoded, err := Encode(text)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if strings.ContainsAny(encoded, "/'\\\n\r") {
		t.Fatalf("encoded payload contains characters unsafe for a script literal")
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded != text {
		t.Fatalf("round trip mismatch: %q", decoded)
	}
}

func TestDecodeAcceptsPaddedGzipStream(t *testing.T) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write([]byte("<svg/>")); err != nil {
		t.Fatalf("unexpected gzip error: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("unexpected gzip close error: %v", err)
	}

	decoded, err := Decode(EncodeBytes(buffer.Bytes()))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded != "<svg/>" {
		t.Fatalf("unexpected payload %q", decoded)
	}
}

func TestDecodeRejectsUncompressedBytes(t *testing.T) {
	_, err := Decode(EncodeBytes([]byte("plain text, not deflated")))
	if !errors.Is(err, ErrInflate) {
		t.Fatalf("expected inflate error, got %v", err)
	}
}
