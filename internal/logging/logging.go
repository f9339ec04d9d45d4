// Package logging builds the process-wide slog.Logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	FormatConsole = "console"
	FormatText    = "text"
	FormatJSON    = "json"
)

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// New returns a logger writing to w in the given format.
func New(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatConsole, "":
		return slog.New(NewConsoleHandler(w, level)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

var (
	debugColor = forcedColor(color.FgCyan)
	infoColor  = forcedColor(color.FgGreen)
	warnColor  = forcedColor(color.FgYellow)
	errorColor = forcedColor(color.FgRed)
)

// forcedColor ignores fatih/color's global NoColor; the handler decides per writer.
func forcedColor(a color.Attribute) *color.Color {
	c := color.New(a)
	c.EnableColor()
	return c
}

// ConsoleHandler prints "15:04:05.000 INFO  message key=value" lines, with the
// level colored when the output is a terminal.
type ConsoleHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	colored bool
	attrs   []slog.Attr
	group   string
}

func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   level,
		colored: isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (h *ConsoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ConsoleHandler) levelLabel(l slog.Level) string {
	label := fmt.Sprintf("%-5s", l.String())
	if !h.colored {
		return label
	}
	c := infoColor
	switch {
	case l >= slog.LevelError:
		c = errorColor
	case l >= slog.LevelWarn:
		c = warnColor
	case l < slog.LevelInfo:
		c = debugColor
	}
	return c.Sprint(label)
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	b.WriteString(t.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(h.levelLabel(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	v := a.Value.String()
	if strings.ContainsAny(v, " \t\"") {
		v = fmt.Sprintf("%q", v)
	}
	b.WriteString(v)
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	h2.group = name
	return &h2
}
