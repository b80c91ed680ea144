// Package slogctx threads extra [slog.Attr] values and a per-call-site
// minimum level through a [context.Context], so that deeply nested helpers
// can enrich log lines emitted by a caller several frames up without a
// *slog.Logger value passed down explicitly. A scan stamps its run ID and
// package count once at the top; every record produced under that context
// carries them.
package slogctx

import (
	"context"
	"log/slog"
)

type attrsKey struct{}
type levelKey struct{}

// With returns a Context carrying the given key/value pairs (or [slog.Attr]
// values) as structured attributes, to be merged into any [slog.Record]
// produced while the Context is in scope.
//
// Args are interpreted exactly as [slog.Logger.Log] interprets its trailing
// arguments. The most recent value for a duplicated key wins.
func With(ctx context.Context, args ...any) context.Context {
	// Let the stdlib do the args-to-Attr conversion rather than reparsing
	// the key/value convention here.
	var r slog.Record
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return WithAttrs(ctx, attrs...)
}

// WithAttrs is like [With] but takes [slog.Attr] values directly.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]slog.Attr)

	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	at := make(map[string]int, len(prev)+len(attrs))
	for _, a := range prev {
		at[a.Key] = len(merged)
		merged = append(merged, a)
	}
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0 {
			continue
		}
		if i, ok := at[a.Key]; ok {
			merged[i] = a
			continue
		}
		at[a.Key] = len(merged)
		merged = append(merged, a)
	}
	return context.WithValue(ctx, attrsKey{}, merged)
}

// Component is shorthand for With(ctx, "component", name), matching the
// "component"-tagged logging convention used throughout this module.
func Component(ctx context.Context, name string) context.Context {
	return With(ctx, "component", name)
}

// WithLevel returns a Context that forces records at or above the given
// level through, regardless of the underlying handler's own threshold. The
// root package's profile knob uses this to surface per-stage timing lines
// without touching the process-wide handler.
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, levelKey{}, l)
}

// Wrap returns a [slog.Handler] that merges attributes and level overrides
// stashed on a Context (via [With]/[WithAttrs]/[WithLevel]) into every
// record before handing it to next.
func Wrap(next slog.Handler) slog.Handler {
	return ctxHandler{next: next}
}

type ctxHandler struct{ next slog.Handler }

var _ slog.Handler = ctxHandler{}

func (h ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if l, ok := ctx.Value(levelKey{}).(slog.Leveler); ok && level >= l.Level() {
		return true
	}
	return h.next.Enabled(ctx, level)
}

func (h ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ctxHandler{next: h.next.WithAttrs(attrs)}
}

func (h ctxHandler) WithGroup(name string) slog.Handler {
	return ctxHandler{next: h.next.WithGroup(name)}
}
