package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Canonical attribute keys shared by every component.
const (
	KeyComponent = "component"
	KeySourceID  = "source_id"
	KeyItemID    = "item_id"
	KeyRunID     = "run_id"
	KeyAction    = "action"
	KeyArtifact  = "artifact_id"
	KeyError     = "error"
)

// New creates a slog.Logger writing to stdout in the given level and format ("text" or "json").
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(level)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Component scopes a logger to one module.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String(KeyComponent, name))
}

func SourceID(id string) slog.Attr   { return slog.String(KeySourceID, id) }
func ItemID(id string) slog.Attr     { return slog.String(KeyItemID, id) }
func RunID(id string) slog.Attr      { return slog.String(KeyRunID, id) }
func Action(a string) slog.Attr      { return slog.String(KeyAction, a) }
func ArtifactID(id string) slog.Attr { return slog.String(KeyArtifact, id) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
