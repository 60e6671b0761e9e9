package audit

import (
	"context"
	"errors"

	"github.com/yasashii-care/caredocs/internal/database"
)

// ErrReasonRequired is returned when an entry has no operator reason.
var ErrReasonRequired = errors.New("audit reason is required")

// Repository provides operations on the audit and warning tables.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, limit, offset int) ([]Entry, error)
	RecordWarning(ctx context.Context, w *Warning) error
	ListWarnings(ctx context.Context, includeResolved bool, limit int) ([]Warning, error)
	WithQuerier(q database.Querier) Repository
}
