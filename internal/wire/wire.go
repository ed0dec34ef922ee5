package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version     byte = 1
	kindSession byte = 1
)

var (
	ErrCorrupt = errors.New("qcache: corrupt session record")
	magic4     = [...]byte{'Q', 'C', 'S', 'S'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Session is one persisted session value.
type Session struct {
	Key     string // canonical cache key the value belongs to
	SavedAt time.Time
	Payload []byte
}

// Session:
//
//	magic(4) | ver(1) | kind(1=session) | savedAt(i64 be, unix nanos)
//	keyLen(u16 be) | key(keyLen) | vlen(u32 be) | payload(vlen)
func EncodeSession(s Session) []byte {
	if l := len(s.Key); l == 0 || l > 0xFFFF {
		panic("qcache: invalid session key length")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + len(s.Key) + 4 + len(s.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindSession)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(s.SavedAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(s.Key)))
	buf.Write(u2[:])
	buf.WriteString(s.Key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(s.Payload)))
	buf.Write(u4[:])
	buf.Write(s.Payload)
	return buf.Bytes()
}

// DecodeSession rejects truncated records and trailing bytes.
func DecodeSession(b []byte) (Session, error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindSession {
		return Session{}, ErrCorrupt
	}

	off := 6

	// savedAt
	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	// keyLen
	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen <= 0 || klen > len(b)-off {
		return Session{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	// vlen
	if off+4 > len(b) {
		return Session{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Session{}, ErrCorrupt
	}

	return Session{
		Key:     key,
		SavedAt: time.Unix(0, nanos),
		Payload: b[off : off+vlen],
	}, nil
}
