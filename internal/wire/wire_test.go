package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

func mustDecodeSession(t *testing.T, b []byte) Session {
	t.Helper()
	s, err := DecodeSession(b)
	if err != nil {
		t.Fatalf("DecodeSession error: %v", err)
	}
	return s
}

func TestSessionRTEmptyAndNonEmpty(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	cases := []Session{
		{Key: `s"user"`, SavedAt: at, Payload: nil},
		{Key: `s"user"`, SavedAt: at, Payload: []byte(`{"name":"A"}`)},
		{Key: `s"session",n42`, SavedAt: time.Unix(0, 0), Payload: []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecodeSession(t, EncodeSession(tc))
		if got.Key != tc.Key {
			t.Fatalf("key mismatch: got %q want %q", got.Key, tc.Key)
		}
		if !got.SavedAt.Equal(tc.SavedAt) {
			t.Fatalf("savedAt mismatch: got %v want %v", got.SavedAt, tc.SavedAt)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestSessionRejectsTrailingBytes(t *testing.T) {
	enc := EncodeSession(Session{Key: "k", SavedAt: time.Now(), Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := DecodeSession(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestSessionCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeSession(Session{Key: "k", SavedAt: time.Now(), Payload: []byte("abc")})

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeSession(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// wrong version
	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeSession(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// wrong kind
	badKind := append([]byte(nil), enc...)
	badKind[5] = kindSession + 1
	if _, err := DecodeSession(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// klen beyond buffer: header is 4 magic +1 ver +1 kind +8 savedAt = 14
	badKlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(badKlen[14:16], 0xFFFF)
	if _, err := DecodeSession(badKlen); err == nil {
		t.Fatalf("expected error on klen beyond buffer")
	}

	// vlen beyond buffer: 16 + klen(1)
	badVlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badVlen[17:21], uint32(len("abc")+1))
	if _, err := DecodeSession(badVlen); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	// truncated buffer
	if _, err := DecodeSession(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
	if _, err := DecodeSession(enc[:10]); err == nil {
		t.Fatalf("expected error on truncated header")
	}
}

func TestSessionKeyLengthValidation(t *testing.T) {
	mustPanic := func(name string, f func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		f()
	}
	mustPanic("empty key", func() { EncodeSession(Session{Key: ""}) })
	mustPanic("long key", func() { EncodeSession(Session{Key: strings.Repeat("a", 0x10000)}) })

	// boundary (65535) -> ok
	enc := EncodeSession(Session{Key: strings.Repeat("b", 0xFFFF), Payload: []byte("v")})
	if got := mustDecodeSession(t, enc); len(got.Key) != 0xFFFF {
		t.Fatalf("boundary key length lost: %d", len(got.Key))
	}
}

func TestSessionZeroCopyPayload(t *testing.T) {
	enc := EncodeSession(Session{Key: "k", Payload: []byte("Z")})
	s := mustDecodeSession(t, enc)
	s.Payload[0] = 'Q'
	if s2 := mustDecodeSession(t, enc); s2.Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
