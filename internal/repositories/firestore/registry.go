package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/stonemart/api/internal/platform/firestore"
	"github.com/stonemart/api/internal/repositories"
)

// Registry bundles every Firestore-backed repository behind the
// repositories.Registry interface and owns the shared provider.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	orders   *OrderRepository
	reviews  *ReviewRepository
	ledger   *LedgerRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires all repositories onto a single provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedgerRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		products: products,
		orders:   orders,
		reviews:  reviews,
		ledger:   ledger,
		counters: counters,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }

func (r *Registry) Ledger() repositories.LedgerRepository { return r.ledger }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
