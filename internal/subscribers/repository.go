// Package subscribers manages mailing-list subscriber records: creation,
// preference updates, and the opt-in lifecycle state machine.
package subscribers

import (
	"context"

	"github.com/mailloop/mailloop/internal/access"
	"github.com/mailloop/mailloop/internal/domain"
)

// Repository defines the interface for subscriber data access.
type Repository interface {
	Create(ctx context.Context, sub *domain.Subscriber) error
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	Update(ctx context.Context, sub *domain.Subscriber) error

	// List returns subscribers matching the access filter. The filter comes
	// straight from the policy engine, so an anonymous caller's sentinel
	// filter yields an empty page rather than an error.
	List(ctx context.Context, filter access.Filter, limit, offset int) ([]domain.Subscriber, error)
}
