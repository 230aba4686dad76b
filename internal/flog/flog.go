package flog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const None Level = -1
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var (
	mu       sync.Mutex
	minLevel = Info
	out      io.Writer = os.Stderr
)

// ParseLevel maps a configuration string to a Level. Unknown strings
// fall back to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn":
		return Warn
	case "error":
		return Error
	case "none":
		return None
	}
	return Info
}

func SetLevel(l Level) {
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// SetOutput redirects log lines, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func logf(level Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel || minLevel == None {
		return
	}
	now := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(out, "%s [%s] %s\n", now, level.String(), fmt.Sprintf(format, args...))
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case None:
		return "None"
	default:
		return "UNKNOWN"
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }
func Fatalf(format string, args ...any) {
	logf(Fatal, format, args...)
	os.Exit(1)
}
