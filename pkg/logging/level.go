package logging

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jingkaihe/logdispatch/internal/errx"
)

// Level is the ordered severity of an event.
type Level int

const (
	LevelAll   Level = math.MinInt32
	LevelTrace Level = 5000
	LevelDebug Level = 10000
	LevelInfo  Level = 20000
	LevelWarn  Level = 30000
	LevelError Level = 40000
	LevelFatal Level = 50000
	LevelOff   Level = math.MaxInt32
)

func (l Level) String() string {
	switch l {
	case LevelAll:
		return "ALL"
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	case LevelOff:
		return "OFF"
	}
	return "LEVEL(" + strconv.Itoa(int(l)) + ")"
}

// Discardable reports whether events at this level may be dropped under
// overload. TRACE, DEBUG and INFO are; WARN and above never are.
func (l Level) Discardable() bool {
	return l <= LevelInfo
}

// ParseLevel maps a level name (case-insensitive) to its Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALL":
		return LevelAll, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	case "OFF":
		return LevelOff, nil
	}
	return 0, errx.With(ErrUnknownLevel, ": %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errx.Wrap(ErrUnknownLevel, err)
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
