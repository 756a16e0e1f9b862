package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStandardPriceChange revalues stock for a batch of products.
	TaskStandardPriceChange = "valuation:standard_price"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "valuation:idempotency_cleanup"
)
