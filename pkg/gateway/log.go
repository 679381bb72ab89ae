package gateway

import "log"

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)
const LogLevelDefault = LogLevelError

var _logLevel LogLevel = LogLevelDefault

func _log(level LogLevel, format string, v ...any) {
	if _logLevel >= level {
		log.Printf(format, v...)
	}
}

func SetLogLevel(logLevel LogLevel) {
	_logLevel = logLevel
}

// ParseLogLevel maps "none", "error", "info" and "debug" to a LogLevel.
// Anything else yields LogLevelDefault and false.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch s {
	case "none":
		return LogLevelNone, true
	case "error":
		return LogLevelError, true
	case "info":
		return LogLevelInfo, true
	case "debug":
		return LogLevelDebug, true
	default:
		return LogLevelDefault, false
	}
}
