// Package `mulog` provides a minimal Zap-Sugar-like logger with structured
// `Levelw(msg, kv...)` functions.  It is the `--log=mu` fallback and the
// default logger until the CLI has selected the real one.
package mulog

import (
	"log"
)

// `Logger` prints messages with timestamps, using package `log`.
type Logger struct{}

func (Logger) Infow(msg string, kv ...interface{}) {
	log.Printf("info: %s %v\n", msg, kv)
}

func (Logger) Warnw(msg string, kv ...interface{}) {
	log.Printf("warning: %s %v\n", msg, kv)
}

func (Logger) Errorw(msg string, kv ...interface{}) {
	log.Printf("error: %s %v\n", msg, kv)
}

func (Logger) Fatalw(msg string, kv ...interface{}) {
	log.Fatalf("fatal: %s %v\n", msg, kv)
}
