// Package logger provides structured logging setup for SectorDesk.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/SectorDesk/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New builds the process logger: JSON on stdout, a "service" attribute on
// every record, plus whichever correlation ids the context carries. The
// Closer flushes buffered records when cfg.Async is set.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newTo(os.Stdout, cfg)
}

func newTo(w io.Writer, cfg config.Logging) (*slog.Logger, Closer) {
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(h, asyncBuffer, asyncWorkers)
		h, closer = ah, ah
	}
	return slog.New(correlated{h}).With("service", cfg.Service), closer
}

// correlated adds the context's correlation ids to each record.
type correlated struct {
	slog.Handler
}

func (h correlated) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	for _, c := range correlationAttrs {
		if id := tagged(ctx, c.key); id != "" {
			rec.AddAttrs(slog.String(c.attr, id))
		}
	}
	return h.Handler.Handle(ctx, rec)
}

func (h correlated) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlated{h.Handler.WithAttrs(attrs)}
}

func (h correlated) WithGroup(name string) slog.Handler {
	return correlated{h.Handler.WithGroup(name)}
}

// parseLevel accepts slog level names in any case, plus "warning".
// Anything unparseable is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
