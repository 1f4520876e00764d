package emergency

import (
	"context"

	"github.com/careportal/portal/pkg/pagination"
)

// Repository is the emergency-access surface of the REST backend. The
// backend owns the records; the portal only lists, reads and reviews them.
type Repository interface {
	List(ctx context.Context, f ListFilter, p pagination.Params) ([]*AccessRequest, int, error)
	GetByID(ctx context.Context, id string) (*AccessRequest, error)
	Review(ctx context.Context, id string, r Review) (*AccessRequest, error)
}
