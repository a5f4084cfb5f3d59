package orderevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tally-pos/tally-pos/internal/inventory"
	"github.com/tally-pos/tally-pos/internal/shared"
)

// Deducter runs an order deduction.
type Deducter interface {
	DeductForOrder(ctx context.Context, in inventory.DeductInput) (inventory.Report, error)
}

// Recorder counts handled events.
type Recorder interface {
	ObserveOrderEvent(outcome string)
}

// Outcomes reported to Recorder.
const (
	OutcomeDeducted  = "deducted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Handler turns OrderSold messages into deductions and result events.
type Handler struct {
	deducter Deducter
	writer   MessageWriter
	recorder Recorder
	logger   *slog.Logger
	retry    RetryPolicy
	tracer   trace.Tracer
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewHandler constructs Handler. recorder may be nil.
func NewHandler(deducter Deducter, writer MessageWriter, recorder Recorder, logger *slog.Logger, retry RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}
	if retry.Backoff <= 0 {
		retry.Backoff = 200 * time.Millisecond
	}
	return &Handler{
		deducter: deducter,
		writer:   writer,
		recorder: recorder,
		logger:   logger,
		retry:    retry,
		tracer:   otel.Tracer("github.com/tally-pos/tally-pos/internal/orderevents"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Handle processes one message. A nil error means the offset may be
// committed; only context cancellation is returned.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	ctx = extractTraceContext(ctx, msg.Headers)
	ctx, span := h.tracer.Start(ctx, "orderevents.Handle", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	var order OrderSold
	if err := json.Unmarshal(msg.Value, &order); err != nil || order.OrderID == "" {
		if err == nil {
			err = errors.New("order_id is required")
		}
		h.logger.Error("drop malformed order event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
		h.observe(OutcomeMalformed)
		return nil
	}
	span.SetAttributes(attribute.String("order.id", order.OrderID))

	qty := decimal.NewFromInt(1)
	if order.Quantity != nil {
		qty = *order.Quantity
	}
	in := inventory.DeductInput{
		MenuID:         order.MenuID,
		Quantity:       qty,
		AddonIDs:       order.AddonIDs,
		UserID:         order.UserID,
		IdempotencyKey: "order:" + order.OrderID,
	}

	report, err := h.deductWithRetry(ctx, in)
	switch {
	case err == nil:
		h.observe(OutcomeDeducted)
		h.publish(ctx, order.OrderID, TypeInventoryDeducted, InventoryDeducted{
			OrderID:     order.OrderID,
			ReferenceID: report.ReferenceID.String(),
			MenuID:      order.MenuID,
			Deductions:  report.Deductions,
			TotalCost:   report.TotalCost,
			Records:     len(report.Records),
			DeductedAt:  h.now().UTC(),
		})
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, shared.ErrIdempotencyConflict):
		h.logger.Info("order already deducted", slog.String("order_id", order.OrderID))
		h.observe(OutcomeDuplicate)
		return nil
	}

	failed := h.failure(order, err)
	if failed.Code == CodeInsufficientStock || failed.Code == CodeInvalidOrder {
		h.observe(OutcomeRejected)
	} else {
		h.observe(OutcomeFailed)
	}
	h.logger.Warn("order deduction failed",
		slog.String("order_id", order.OrderID),
		slog.String("code", failed.Code),
		slog.String("stage", failed.Stage),
		slog.Any("error", err),
	)
	h.publish(ctx, order.OrderID, TypeDeductionFailed, failed)
	return nil
}

func (h *Handler) deductWithRetry(ctx context.Context, in inventory.DeductInput) (inventory.Report, error) {
	backoff := h.retry.Backoff
	var err error
	for attempt := 1; attempt <= h.retry.Attempts; attempt++ {
		var report inventory.Report
		report, err = h.deducter.DeductForOrder(ctx, in)
		if err == nil || !errors.Is(err, inventory.ErrTransientStore) || attempt == h.retry.Attempts {
			return report, err
		}
		h.logger.Warn("retry order deduction",
			slog.Int64("menu_id", in.MenuID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if serr := h.sleep(ctx, backoff); serr != nil {
			return inventory.Report{}, serr
		}
		backoff *= 2
	}
	return inventory.Report{}, err
}

func (h *Handler) failure(order OrderSold, err error) DeductionFailed {
	failed := DeductionFailed{
		OrderID:  order.OrderID,
		MenuID:   order.MenuID,
		Code:     CodeInternal,
		Message:  err.Error(),
		FailedAt: h.now().UTC(),
	}
	var dedErr *inventory.DeductionError
	if errors.As(err, &dedErr) {
		failed.Stage = string(dedErr.Stage)
	}
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		failed.Code = CodeInsufficientStock
		failed.MaterialID = stockErr.MaterialID
	case errors.Is(err, inventory.ErrInvalidInput):
		failed.Code = CodeInvalidOrder
	case errors.Is(err, inventory.ErrTransientStore):
		failed.Code = CodeStoreUnavailable
		failed.Message = "store unavailable"
	}
	return failed
}

// publish failures are logged; the deduction already committed.
func (h *Handler) publish(ctx context.Context, key, eventType string, payload any) {
	if h.writer == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode result event", slog.String("type", eventType), slog.Any("error", err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: append(injectTraceContext(ctx),
			kafka.Header{Key: "event-type", Value: []byte(eventType)},
		),
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		h.logger.Error("publish result event",
			slog.String("type", eventType),
			slog.String("order_id", key),
			slog.Any("error", err),
		)
	}
}

func (h *Handler) observe(outcome string) {
	if h.recorder != nil {
		h.recorder.ObserveOrderEvent(outcome)
	}
}

func extractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func injectTraceContext(ctx context.Context) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := make([]kafka.Header, 0, len(carrier)+1)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
