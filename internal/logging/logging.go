// Package logging installs the JSON logger shared by every function.
package logging

import (
	"context"
	"io"
	"log/slog"
)

// LevelNotice sits between info and warn. Run summaries are logged at this
// level.
const LevelNotice = slog.Level(2)

// NewHandler returns a JSON handler writing to w that names the notice level.
func NewHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if level, ok := a.Value.Any().(slog.Level); ok && level == LevelNotice {
					a.Value = slog.StringValue("NOTICE")
				}
			}
			return a
		},
	})
}

// Setup makes a JSON logger writing to w the default logger.
func Setup(w io.Writer) {
	slog.SetDefault(slog.New(NewHandler(w)))
}

// Notice logs msg at the notice level.
func Notice(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelNotice, msg, args...)
}
