package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options selects the handler and initial level.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // json | console
}

// New returns a logger writing to w and the LevelVar controlling it.
func New(w io.Writer, opts Options) (*slog.Logger, *slog.LevelVar, error) {
	lv := new(slog.LevelVar)
	if err := SetLevel(lv, opts.Level); err != nil {
		return nil, nil, err
	}

	var h slog.Handler
	switch opts.Format {
	case "json", "":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	case "console":
		h = NewConsoleHandler(w, lv)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q: want json|console", opts.Format)
	}
	return slog.New(h), lv, nil
}

// SetLevel parses name and stores it in lv. An empty name means info.
func SetLevel(lv *slog.LevelVar, name string) error {
	if name == "" {
		lv.Set(slog.LevelInfo)
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("logging: level %q: %w", name, err)
	}
	lv.Set(l)
	return nil
}

// ConsoleHandler writes "15:04:05.000 LEVEL message key=value ..." lines.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	prefix string // pre-rendered attrs from WithAttrs
	group  string
}

// NewConsoleHandler returns a handler that writes colored lines to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *ConsoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.Format("15:04:05.000"))
	buf.WriteByte(' ')
	buf.WriteString(levelString(r.Level))
	buf.WriteByte(' ')
	buf.WriteString(r.Message)
	buf.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	for _, a := range attrs {
		writeAttr(&buf, h.group, a)
	}
	cp := *h
	cp.prefix = h.prefix + buf.String()
	return &cp
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	if cp.group != "" {
		cp.group += "."
	}
	cp.group += name
	return &cp
}

func writeAttr(buf *bytes.Buffer, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, key, ga)
		}
		return
	}
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\"=") {
		v = fmt.Sprintf("%q", v)
	}
	buf.WriteString(v)
}

func levelString(l slog.Level) string {
	s := l.String()
	switch {
	case l < slog.LevelInfo:
		return color.MagentaString(s)
	case l < slog.LevelWarn:
		return color.BlueString(s)
	case l < slog.LevelError:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
