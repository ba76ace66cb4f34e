// Package logging provides the engine-wide structured logger.
package logging

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger used by every subsystem in this module.
// Subsystems never instantiate their own logrus.Logger; they call into
// this one so that a single -loglevel setting governs the whole engine.
var Log = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&callerFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses a level name (debug/info/warn/error) and applies it.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		Log.Warnf("logging: unknown level %q, keeping %s", level, Log.GetLevel())
		return
	}
	Log.SetLevel(lvl)
}

// callerFormatter renders "[time] [LEVL] (file:func:line) message", the
// same shape the teacher's custom formatter produces, so region/mpool/lock
// traces read the same way the original engine's did.
type callerFormatter struct{}

func (f *callerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ts := e.Time.Format("15:04:05 2006/01/02")
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := fmt.Sprintf("[%s] [%s] (%s) %s\n", ts, level, caller(), e.Message)
	return []byte(msg), nil
}

func caller() string {
	for i := 2; i < 25; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen/logrus") || strings.Contains(file, "logging/logging.go") {
			continue
		}
		fn := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), fn, line)
	}
	return "unknown:unknown:0"
}

// Named returns an entry pre-tagged with the owning subsystem, e.g.
// logging.Named("mpool").Debugf("evicted %d buffers", n).
func Named(subsystem string) *logrus.Entry {
	return Log.WithField("subsystem", subsystem)
}
