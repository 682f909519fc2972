package audit

import (
	"context"
)

// Repository has no update or delete: the log is append-only.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
