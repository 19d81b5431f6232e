package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// textHandler renders one record per line:
//
//	2026-08-05T12:04:05.000 [INFO] block committed block_id=42 dir=1
//
// Groups flatten into dotted key prefixes ("store.dir=1"). Attrs bound
// with WithAttrs are rendered once and replayed as bytes on every
// record, so a derived logger pays nothing per line for its bound
// context.
type textHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	color bool

	// prefix is the dotted group path WithGroup accumulated.
	prefix string
	// bound holds the pre-rendered attrs from WithAttrs.
	bound []byte
}

func newTextHandler(w io.Writer, level slog.Leveler, color bool) *textHandler {
	return &textHandler{w: w, mu: &sync.Mutex{}, level: level, color: color}
}

const (
	escReset = "\x1b[0m"
	escDim   = "\x1b[2m"
	escRed   = "\x1b[31m"
	escYello = "\x1b[33m"
	escBlue  = "\x1b[34m"
)

// levelTag maps a level to its column text and color. Levels between
// the standard four inherit the tag below them.
func levelTag(level slog.Level) (string, string) {
	switch {
	case level >= slog.LevelError:
		return "ERROR", escRed
	case level >= slog.LevelWarn:
		return "WARN", escYello
	case level >= slog.LevelInfo:
		return "INFO", escBlue
	default:
		return "DEBUG", escDim
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	if !r.Time.IsZero() {
		buf = r.Time.AppendFormat(buf, "2006-01-02T15:04:05.000")
		buf = append(buf, ' ')
	}

	tag, color := levelTag(r.Level)
	buf = append(buf, '[')
	if h.color {
		buf = append(buf, color...)
		buf = append(buf, tag...)
		buf = append(buf, escReset...)
	} else {
		buf = append(buf, tag...)
	}
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	buf = append(buf, h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = dotted(prefix, a.Key)
		}
		for _, member := range v.Group() {
			buf = h.appendAttr(buf, sub, member)
		}
		return buf
	}
	if a.Key == "" {
		return buf
	}

	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, escDim...)
	}
	if prefix != "" {
		buf = append(buf, prefix...)
		buf = append(buf, '.')
	}
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	if h.color {
		buf = append(buf, escReset...)
	}
	return appendValue(buf, v)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return appendText(buf, v.String())
	}
}

// appendText quotes a value only when it would break the key=value
// grammar of the line.
func appendText(buf []byte, s string) []byte {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func dotted(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	bound := append([]byte(nil), h.bound...)
	for _, a := range attrs {
		bound = h2.appendAttr(bound, h.prefix, a)
	}
	h2.bound = bound
	return &h2
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = dotted(h.prefix, name)
	return &h2
}
