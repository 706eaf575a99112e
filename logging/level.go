package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Level is a log level. An entry is written when its level is at least the logger's level.
type Level int

// INFO is the zero Level.
const (
	DEBUG Level = iota - 1
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{DEBUG: "Debug", INFO: "Info", WARN: "Warn", ERROR: "Error"}

func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(level))
}

// LevelFromString parses "debug", "info", "warn" (or "warning") and "error", ignoring case.
func LevelFromString(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// AsZap returns the matching zapcore level. Levels above ERROR map to ERROR.
func (level Level) AsZap() zapcore.Level {
	switch {
	case level <= DEBUG:
		return zapcore.DebugLevel
	case level == INFO:
		return zapcore.InfoLevel
	case level == WARN:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// MarshalJSON encodes the level name.
func (level Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(level.String())
}

// UnmarshalJSON decodes a level name.
func (level *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := LevelFromString(s)
	if err != nil {
		return err
	}
	*level = parsed
	return nil
}

// AtomicLevel is a Level shared between goroutines.
type AtomicLevel struct {
	val *atomic.Int32
}

// NewAtomicLevelAt returns an AtomicLevel set to level.
func NewAtomicLevelAt(level Level) AtomicLevel {
	a := AtomicLevel{val: &atomic.Int32{}}
	a.Set(level)
	return a
}

// Set changes the level.
func (a AtomicLevel) Set(level Level) {
	a.val.Store(int32(level))
}

// Get returns the level.
func (a AtomicLevel) Get() Level {
	return Level(a.val.Load())
}
