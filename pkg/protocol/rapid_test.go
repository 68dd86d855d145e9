package protocol

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// TestDecodeArbitraryBytes checks that garbage never panics and always maps
// to one of the documented errors
func TestDecodeArbitraryBytes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")

		f, err := DecodeFrame(data)
		if err != nil {
			if !errors.Is(err, ErrMalformedFrame) && !errors.Is(err, ErrMissingType) {
				t.Fatalf("unexpected error class: %v", err)
			}
			return
		}
		if f.Type == "" {
			t.Fatalf("decoded frame without type")
		}
	})
}

// TestEnvelopeIdentityPreserved checks that type, chat id and sender survive
// the wire for arbitrary strings
func TestEnvelopeIdentityPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := Frame{
			Type:   rapid.StringN(1, 32, -1).Draw(t, "type"),
			ChatID: rapid.String().Draw(t, "chatId"),
			Sender: rapid.String().Draw(t, "sender"),
		}

		data, err := EncodeFrame(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		decoded, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != original.Type || decoded.ChatID != original.ChatID || decoded.Sender != original.Sender {
			t.Fatalf("envelope mismatch: got %+v, want %+v", decoded, original)
		}
	})
}
