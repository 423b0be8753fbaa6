package tern

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"

	"github.com/fatih/color"
)

type ConsoleHandlerOpts struct {
	SlogOpts slog.HandlerOptions
}

// ConsoleHandler renders records as colored single-line console
// output. JSON attrs keep gateway payload dumps readable.
type ConsoleHandler struct {
	slog.Handler
	l *log.Logger
}

func (ch *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = color.WhiteString(level)
	case slog.LevelInfo:
		level = color.GreenString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	default:
		// Unrecognized level.
		level = color.HiWhiteString(level)
	}
	timeStr := r.Time.Format("[15:04:05]")
	message := color.HiWhiteString(r.Message)
	if r.NumAttrs() == 0 {
		ch.l.Println(timeStr, level, message)
		return nil
	}
	fields := make(map[string]interface{}, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})
	j, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	ch.l.Println(timeStr, level, message, color.WhiteString(string(j)))
	return nil
}

func NewConsoleHandler(out io.Writer, opts ConsoleHandlerOpts) *ConsoleHandler {
	return &ConsoleHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}
}

// NewLogger builds the library's default logger.
func NewLogger(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewConsoleHandler(out, ConsoleHandlerOpts{
		SlogOpts: slog.HandlerOptions{Level: level},
	}))
}
