package finrag

import (
	"context"
	"log/slog"
)

// discardHandler is a slog.Handler that drops everything. Components that
// are not given a logger use it so logging calls stay valid.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(discardHandler{})
}
