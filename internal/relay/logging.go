package relay

import "log"

// EventKind names one of the lifecycle events spec.md §4.5 Observability
// requires the relay to emit.
type EventKind string

const (
	EventRegister   EventKind = "REGISTER"
	EventConnect    EventKind = "CONNECT"
	EventDisconnect EventKind = "DISCONNECT"
	EventProtect    EventKind = "PROTECT"
	EventCleanup    EventKind = "CLEANUP"
	EventTimeout    EventKind = "TIMEOUT"
	EventError      EventKind = "ERROR"
)

// Logger is the callback hook spec.md §4.5 Observability describes:
// "The logging pipe is a callback hook; color/format is an external
// concern." Implementations can route this anywhere; DefaultLogger
// reproduces the teacher's own log.Printf/emoji-tag style.
type Logger interface {
	Log(kind EventKind, detail string)
}

// LoggerFunc adapts a plain function to the Logger interface.
type LoggerFunc func(kind EventKind, detail string)

func (f LoggerFunc) Log(kind EventKind, detail string) { f(kind, detail) }

// eventEmoji mirrors the teacher's per-subsystem emoji-tag convention.
func eventEmoji(kind EventKind) string {
	switch kind {
	case EventRegister:
		return "🔌"
	case EventConnect:
		return "✅"
	case EventDisconnect:
		return "🔌"
	case EventProtect:
		return "🔒"
	case EventCleanup:
		return "🧹"
	case EventTimeout:
		return "⏱️"
	case EventError:
		return "❌"
	default:
		return "ℹ️"
	}
}

// DefaultLogger logs every event via the standard library, matching the
// rest of the repo's logging convention.
var DefaultLogger Logger = LoggerFunc(func(kind EventKind, detail string) {
	log.Printf("%s %s: %s", eventEmoji(kind), kind, detail)
})
