package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/qcache"
)

var _ qcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line with component=qcache.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "qcache")}
}

func (l LogrusLogger) Debug(msg string, f qcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f qcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f qcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f qcache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f qcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			continue
		}
		fields[k] = v
	}
	return e.WithFields(fields)
}
