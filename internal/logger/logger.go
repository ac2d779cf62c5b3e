// Package logger provides leveled logging for the scanner process.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type leveledLogger struct {
	level Level
	out   *log.Logger
}

var std *leveledLogger

// Init initializes the process-wide logger.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	std = &leveledLogger{
		level: ParseLevel(level),
		out:   log.New(os.Stderr, "", flags),
	}
}

// SetOutput redirects log output; used by tests.
func SetOutput(w io.Writer) {
	if std != nil {
		std.out.SetOutput(w)
	}
}

func emit(level Level, tag, format string, args ...any) {
	if std == nil || std.level > level {
		return
	}
	_ = std.out.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...any) { emit(DebugLevel, "[DEBUG] ", format, args...) }
func Info(format string, args ...any)  { emit(InfoLevel, "[INFO] ", format, args...) }
func Warn(format string, args ...any)  { emit(WarnLevel, "[WARN] ", format, args...) }
func Error(format string, args ...any) { emit(ErrorLevel, "[ERROR] ", format, args...) }

// Fatal logs the message and exits the process.
func Fatal(format string, args ...any) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if std != nil {
		_ = std.out.Output(3, msg)
	} else {
		log.Print(msg)
	}
	os.Exit(1)
}
