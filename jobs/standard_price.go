package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/stockval/internal/jobs"
	"github.com/odyssey-erp/stockval/internal/valuation"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StandardPricePayload is the queued form of a standard price change.
type StandardPricePayload struct {
	ProductIDs    []int64          `json:"product_ids"`
	NewPrice      *decimal.Decimal `json:"new_price"`
	ActorID       int64            `json:"actor_id"`
	RequestID     string           `json:"request_id"`
	Date          *time.Time       `json:"date,omitempty"`
	PeriodID      *int64           `json:"period_id,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	ForceQuantity bool             `json:"force_quantity,omitempty"`
}

// NewStandardPriceTask builds the task for in. The idempotency key, when
// present, becomes the task id so the queue rejects duplicates; it is not
// carried in the payload, leaving retries free to run again.
func NewStandardPriceTask(in valuation.ChangePriceInput) (*asynq.Task, []asynq.Option, error) {
	price := in.NewPrice
	payload := StandardPricePayload{
		ProductIDs:    in.ProductIDs,
		NewPrice:      &price,
		ActorID:       in.ActorID,
		RequestID:     in.RequestID,
		Date:          in.Options.Date,
		PeriodID:      in.Options.PeriodID,
		Reference:     in.Options.Reference,
		ForceQuantity: in.Options.ForceQuantity,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5)}
	if in.IdempotencyKey != "" {
		opts = append(opts, asynq.TaskID(TaskStandardPriceChange+":"+in.IdempotencyKey))
	}
	return asynq.NewTask(TaskStandardPriceChange, body), opts, nil
}

func (p StandardPricePayload) input() valuation.ChangePriceInput {
	return valuation.ChangePriceInput{
		ProductIDs: p.ProductIDs,
		NewPrice:   *p.NewPrice,
		ActorID:    p.ActorID,
		RequestID:  p.RequestID,
		Options: valuation.PostingOptions{
			Date:          p.Date,
			PeriodID:      p.PeriodID,
			Reference:     p.Reference,
			ForceQuantity: p.ForceQuantity,
		},
	}
}

// PriceChanger is the valuation operation run by the job.
type PriceChanger interface {
	ChangeStandardPrice(ctx context.Context, in valuation.ChangePriceInput) (valuation.ChangePriceResult, error)
}

// StandardPriceJob applies queued standard price changes.
type StandardPriceJob struct {
	Service PriceChanger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStandardPriceJob constructs the job handler.
func NewStandardPriceJob(service PriceChanger, logger *slog.Logger, metrics *jobmetrics.Metrics) *StandardPriceJob {
	return &StandardPriceJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle runs the price change. Products that already carry the new price
// post nothing on retry, so only transient failures are retried.
func (j *StandardPriceJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("standard price: dependencies not configured")
	}
	var payload StandardPricePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("standard price: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.NewPrice == nil {
		return fmt.Errorf("standard price: new_price is required: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskStandardPriceChange)
	result, err := j.Service.ChangeStandardPrice(ctx, payload.input())
	failed := result.Failed()
	j.metrics().AddItems(TaskStandardPriceChange, "succeeded", len(result.Products)-failed)
	j.metrics().AddItems(TaskStandardPriceChange, "failed", failed)
	if err == nil {
		j.log().Info("standard price changed",
			slog.String("request_id", result.RequestID),
			slog.Int("products", len(result.Products)))
		return tracker.End(nil)
	}

	j.log().Error("standard price change failed",
		slog.String("request_id", payload.RequestID),
		slog.Int("failed", failed),
		slog.Any("error", err))
	if !retryable(err) {
		err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return tracker.End(err)
}

// retryable reports whether any joined failure may succeed on a later run.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if retryable(e) {
				return true
			}
		}
		return false
	}
	switch {
	case valuation.IsConfigurationError(err),
		errors.Is(err, valuation.ErrInvalidInput),
		errors.Is(err, valuation.ErrProductNotFound),
		errors.Is(err, valuation.ErrNoOpenPeriod),
		errors.Is(err, valuation.ErrActorRequired),
		errors.Is(err, valuation.ErrCompanyNotFound):
		return false
	}
	return true
}

func (j *StandardPriceJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StandardPriceJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStandardPriceChange))
	}
	return slog.Default().With(slog.String("job", TaskStandardPriceChange))
}
