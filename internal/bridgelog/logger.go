// Package bridgelog provides the structured logger shared by every bridge
// component, backed by zerolog behind a small injectable interface.
package bridgelog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging surface every component depends on. It is injected
// at construction time rather than used as a package-level global so tests
// can supply a recording fake.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// zlogger is the production Logger, writing one JSON object per line.
type zlogger struct {
	logger zerolog.Logger
}

// New builds a Logger writing to stderr. debug controls whether Debug-level
// records are emitted; Warn/Error always are.
func New(debug bool) Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return &zlogger{logger: l}
}

func (l *zlogger) fields(event *zerolog.Event, keysAndValues ...any) *zerolog.Event {
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(keysAndValues) {
			event = event.Interface(key, keysAndValues[i+1])
		} else {
			event = event.Interface(key, nil)
		}
	}
	return event
}

func (l *zlogger) Debug(msg string, kv ...any) { l.fields(l.logger.Debug(), kv...).Msg(msg) }
func (l *zlogger) Info(msg string, kv ...any)  { l.fields(l.logger.Info(), kv...).Msg(msg) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.fields(l.logger.Warn(), kv...).Msg(msg) }
func (l *zlogger) Error(msg string, kv ...any) { l.fields(l.logger.Error(), kv...).Msg(msg) }

// Nop is a Logger that discards everything; useful in tests.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
