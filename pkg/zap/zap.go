// Package `zap` wraps Zap logging for aursnapd.
//
// We use the sugared logger's structured `Levelw(msg, kv ...)` functions
// throughout; components declare a minimal `Logger` interface and receive
// either a `*zap.Logger` or a `mulog.Logger`.
package zap

import (
	"go.uber.org/zap"
)

// `Logger` is a `zap.SugaredLogger`.
type Logger = zap.SugaredLogger

func NewProduction() (*Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func NewDevelopment() (*Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
