package pattern

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jingkaihe/logdispatch/pkg/logging"
)

// longNames are multi-letter conversion names, matched before single letters.
var longNames = []string{"throwable"}

// Named date formats accepted by %d{...}. Anything else is a Go time layout.
const (
	ISO8601Format  = "2006-01-02 15:04:05,000"
	AbsoluteFormat = "15:04:05,000"
	DateFormat     = "02 Jan 2006 15:04:05,000"
)

var processStart = time.Now()

func newConverter(name, option string, hasOption bool) (formatFunc, error) {
	switch name {
	case "c":
		return loggerConverter(option, hasOption)
	case "C":
		return locationConverter(func(l logging.LocationInfo) string { return l.Class }), nil
	case "M":
		return locationConverter(func(l logging.LocationInfo) string { return l.Method }), nil
	case "F":
		return locationConverter(func(l logging.LocationInfo) string { return l.File }), nil
	case "L":
		return locationConverter(func(l logging.LocationInfo) string { return l.Line }), nil
	case "l":
		return locationConverter(logging.LocationInfo.FullInfo), nil
	case "d":
		return dateConverter(option), nil
	case "m":
		return messageConverter, nil
	case "n":
		return literalConverter("\n"), nil
	case "p":
		return levelConverter, nil
	case "t":
		return threadConverter, nil
	case "x":
		return ndcConverter, nil
	case "X":
		return mdcConverter(option), nil
	case "r":
		return relativeTimeConverter, nil
	case "throwable":
		return throwableConverter, nil
	}
	return nil, errors.New("unknown conversion " + strconv.Quote(name))
}

func literalConverter(text string) formatFunc {
	return func(buf *bytes.Buffer, _ *logging.Event) {
		buf.WriteString(text)
	}
}

func messageConverter(buf *bytes.Buffer, e *logging.Event) {
	buf.WriteString(e.RenderedMessage())
}

func levelConverter(buf *bytes.Buffer, e *logging.Event) {
	buf.WriteString(e.Level.String())
}

func threadConverter(buf *bytes.Buffer, e *logging.Event) {
	buf.WriteString(e.ThreadName())
}

func ndcConverter(buf *bytes.Buffer, e *logging.Event) {
	buf.WriteString(e.DiagnosticContext())
}

func relativeTimeConverter(buf *bytes.Buffer, e *logging.Event) {
	buf.WriteString(strconv.FormatInt(e.Timestamp.Sub(processStart).Milliseconds(), 10))
}

func throwableConverter(buf *bytes.Buffer, e *logging.Event) {
	rep := e.ThrowableStrRep()
	for i, line := range rep {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
}

func loggerConverter(option string, hasOption bool) (formatFunc, error) {
	if !hasOption {
		return func(buf *bytes.Buffer, e *logging.Event) {
			buf.WriteString(e.LoggerName)
		}, nil
	}
	precision, err := strconv.Atoi(option)
	if err != nil || precision <= 0 {
		return nil, errors.New("logger precision must be a positive integer, got " + strconv.Quote(option))
	}
	return func(buf *bytes.Buffer, e *logging.Event) {
		buf.WriteString(abbreviate(e.LoggerName, precision))
	}, nil
}

// abbreviate keeps the rightmost n dot-separated components of name.
func abbreviate(name string, n int) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			n--
			if n == 0 {
				return name[i+1:]
			}
		}
	}
	return name
}

func locationConverter(field func(logging.LocationInfo) string) formatFunc {
	return func(buf *bytes.Buffer, e *logging.Event) {
		v := field(e.LocationInformation())
		if v == "" {
			v = logging.NA
		}
		buf.WriteString(v)
	}
}

func dateConverter(option string) formatFunc {
	layout := ISO8601Format
	switch strings.ToUpper(option) {
	case "", "ISO8601":
	case "ABSOLUTE":
		layout = AbsoluteFormat
	case "DATE":
		layout = DateFormat
	default:
		layout = option
	}
	return func(buf *bytes.Buffer, e *logging.Event) {
		var scratch [64]byte
		buf.Write(e.Timestamp.AppendFormat(scratch[:0], layout))
	}
}

func mdcConverter(key string) formatFunc {
	if key != "" {
		return func(buf *bytes.Buffer, e *logging.Event) {
			buf.WriteString(e.MDCValue(key))
		}
	}
	return func(buf *bytes.Buffer, e *logging.Event) {
		m := e.MDCCopy()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf.WriteByte('{')
		for _, k := range keys {
			buf.WriteByte('{')
			buf.WriteString(k)
			buf.WriteByte(',')
			buf.WriteString(m[k])
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
}
