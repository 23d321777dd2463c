// Package console renders log records as the operator transcript:
//
//	INFO > Validating declared volumes and ports...
//	COMMAND > env $(cat .env.io) docker compose config
//	WARNING > Backup service failed: exit status 1
//	SUCCESS > Build agro/portal@beta deployed
//
// It is a slog.Handler so every component logs through the usual *slog.Logger.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Transcript levels in addition to the slog defaults.
const (
	LevelCommand  = slog.LevelInfo + 1
	LevelSuccess  = slog.LevelInfo + 2
	LevelCritical = slog.LevelError + 4
)

// Label returns the transcript label of a level.
func Label(level slog.Level) string {
	switch {
	case level >= LevelCritical:
		return "CRITICAL"
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= LevelSuccess:
		return "SUCCESS"
	case level >= LevelCommand:
		return "COMMAND"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// ReplaceLevel makes the slog text and JSON handlers print transcript labels
// for the custom levels.
func ReplaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(Label(level))
		}
	}
	return a
}

var palette = map[string]*color.Color{
	"DEBUG":    color.New(color.FgHiBlack),
	"INFO":     color.New(color.FgCyan),
	"COMMAND":  color.New(color.FgHiBlack),
	"SUCCESS":  color.New(color.FgHiGreen),
	"WARNING":  color.New(color.FgYellow),
	"ERROR":    color.New(color.FgHiRed),
	"CRITICAL": color.New(color.BgRed, color.FgWhite),
}

// =============================================================================
// Handler
// =============================================================================

// Options configures a Handler.
type Options struct {
	Level slog.Leveler // minimum level, defaults to INFO
	Color bool         // colorize labels when the terminal supports it
}

// Handler writes one "LABEL > message key=value..." line per record.
type Handler struct {
	opts   Options
	mu     *sync.Mutex
	w      io.Writer
	attrs  []groupedAttr
	groups []string
}

// groupedAttr remembers the group prefix that was open when the attr was added.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

// NewHandler creates a Handler writing to w.
func NewHandler(w io.Writer, opts *Options) *Handler {
	h := &Handler{mu: &sync.Mutex{}, w: w}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	label := Label(r.Level)
	if h.opts.Color && !color.NoColor {
		label = palette[label].Sprint(label)
	}

	var buf bytes.Buffer
	buf.WriteString(label)
	buf.WriteString(" > ")
	buf.WriteString(r.Message)

	for _, ga := range h.attrs {
		writeAttr(&buf, ga.prefix, ga.attr)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	prefix := strings.Join(h.groups, ".")
	clone.attrs = append([]groupedAttr{}, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, groupedAttr{prefix: prefix, attr: a})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

// componentKey is omitted from transcript lines.
const componentKey = "component"

func writeAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) || a.Key == componentKey {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" && p != "" {
			p = prefix + "." + p
		} else if p == "" {
			p = prefix
		}
		for _, ga := range a.Value.Group() {
			writeAttr(buf, p, ga)
		}
		return
	}

	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	value := a.Value.String()
	if strings.ContainsAny(value, " \t\n\"") {
		value = fmt.Sprintf("%q", value)
	}
	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(value)
}
