// Package logging defines the verbosity levels shared by the corpuschat
// packages and helpers for wiring them into log/slog handlers.
package logging

import (
	"log/slog"
	"strings"
)

// Levels slotted between the standard slog levels. LevelDev carries prompt
// and completion dumps and sits between DEBUG and INFO; LevelAnalysis
// carries retrieval and validation diagnostics and sits between INFO and
// WARN.
const (
	LevelDev      = slog.Level(-2)
	LevelAnalysis = slog.Level(2)
)

var levelNames = map[slog.Level]string{
	LevelDev:      "DEV",
	LevelAnalysis: "ANALYSIS",
}

// RenameLevels is a ReplaceAttr function for slog.HandlerOptions that
// prints the custom levels by name instead of "DEBUG+2" / "INFO+2".
func RenameLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	if name, ok := levelNames[level]; ok {
		a.Value = slog.StringValue(name)
	}
	return a
}

// ParseLevel maps a configuration string to a slog level. Unknown values
// fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "dev":
		return LevelDev
	case "analysis":
		return LevelAnalysis
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
