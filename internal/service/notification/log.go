package notification

import (
	"context"
	"log/slog"
)

type logNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &logNotifier{logger: logger}
}

func (l *logNotifier) Notify(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Kind {
	case MissingCredentials, ModeFailure, ConnectionError:
		level = slog.LevelError
	case MarketClosed, ProductUnavailable, UnknownVerdict:
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, event.Message(), "kind", event.Kind, "at", event.At)
	return nil
}

func (l *logNotifier) Name() string {
	return "log"
}
