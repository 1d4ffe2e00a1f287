package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler fans records out to two handlers.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.primary.Enabled(ctx, r.Level) {
		errs = append(errs, h.primary.Handle(ctx, r.Clone()))
	}
	if h.secondary.Enabled(ctx, r.Level) {
		errs = append(errs, h.secondary.Handle(ctx, r.Clone()))
	}
	return errors.Join(errs...)
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{h.primary.WithAttrs(attrs), h.secondary.WithAttrs(attrs)}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{h.primary.WithGroup(name), h.secondary.WithGroup(name)}
}
