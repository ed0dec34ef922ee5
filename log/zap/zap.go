package zap

import (
	"github.com/unkn0wn-root/qcache"
	"go.uber.org/zap"
)

var _ qcache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "qcache" so cache lines are easy to filter.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("qcache")} }

func (z ZapLogger) Debug(msg string, f qcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f qcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f qcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f qcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f qcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
