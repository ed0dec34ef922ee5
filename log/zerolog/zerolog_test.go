package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/unkn0wn-root/qcache"
)

func TestZerologLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("dropped", qcache.Fields{"k": 1})
	l.Error("gen bump error", qcache.Fields{"key": "k1", "err": errors.New("down")})

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("want exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if rec["level"] != "error" || rec["message"] != "gen bump error" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["component"] != "qcache" || rec["key"] != "k1" || rec["err"] != "down" {
		t.Fatalf("unexpected fields: %v", rec)
	}
}
