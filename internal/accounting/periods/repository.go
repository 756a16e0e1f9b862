package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoOpenPeriod indicates no open period covers the requested date.
var ErrNoOpenPeriod = errors.New("periods: no open period for date")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FindOpenByDate returns the open period covering date.
func FindOpenByDate(ctx context.Context, q Querier, date time.Time) (Period, error) {
	var period Period
	err := q.QueryRow(ctx, `SELECT id, code, start_date, end_date, status
FROM periods WHERE status='OPEN' AND $1::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date).
		Scan(&period.ID, &period.Code, &period.StartDate, &period.EndDate, &period.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return period, nil
}
