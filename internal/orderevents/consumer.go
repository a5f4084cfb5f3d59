package orderevents

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Consumer reads order events and commits each offset after handling.
type Consumer struct {
	reader  MessageReader
	handler *Handler
	logger  *slog.Logger
	backoff time.Duration
}

// NewConsumer constructs Consumer.
func NewConsumer(reader MessageReader, handler *Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: reader, handler: handler, logger: logger, backoff: time.Second}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("order event consumer started")
	defer c.logger.Info("order event consumer stopped")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch order event", slog.Any("error", err))
			if serr := sleepCtx(ctx, c.backoff); serr != nil {
				return nil
			}
			continue
		}
		if err := c.handler.Handle(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.logger.Error("handle order event", slog.Int64("offset", msg.Offset), slog.Any("error", err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit order event", slog.Int64("offset", msg.Offset), slog.Any("error", err))
		}
	}
}
