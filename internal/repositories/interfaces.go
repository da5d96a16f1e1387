package repositories

import (
	"context"
	"time"

	domain "github.com/stonemart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
	Ledger() LedgerRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog products and owns the atomic stock counter.
type ProductRepository interface {
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// AdjustStock applies one stock movement as a single conditional update:
	// the transaction re-reads the current count, fails the whole operation
	// when an export would drive it negative, and writes the product-level
	// count together with the variant count so the two cannot drift.
	AdjustStock(ctx context.Context, req StockAdjustRequest) (StockAdjustResult, error)
	UpdateRating(ctx context.Context, productID string, summary domain.RatingSummary, updatedAt time.Time) error
}

// ProductListFilter controls catalog listings.
type ProductListFilter struct {
	SellerRef  string
	ActiveOnly bool
	Pagination domain.Pagination
}

// StockAdjustRequest describes one manual stock movement. The ledger entry is
// written in the same transaction as the count update so the history cannot
// miss a movement.
type StockAdjustRequest struct {
	EntryID   string
	ProductID string
	VariantID string
	Movement  domain.MovementType
	Quantity  int
	Note      string
	Now       time.Time
}

// StockAdjustResult reports the post-movement counts and the ledger entry
// recorded for the movement.
type StockAdjustResult struct {
	Entry             domain.LedgerEntry
	StockAfter        int
	VariantStockAfter *int
}

// OrderPlaceRequest bundles the order header with its stock decrements. The
// repository persists the order, decrements every item's stock, and appends
// the export ledger entries in one transaction: either the order is fully
// placed or nothing is written.
type OrderPlaceRequest struct {
	Order    domain.Order
	EntryIDs []string
	Now      time.Time
}

// OrderPlaceResult returns the stored order and the ledger entries written
// alongside it.
type OrderPlaceResult struct {
	Order   domain.Order
	Entries []domain.LedgerEntry
}

// OrderCancelRequest finalises a cancellation: the repository re-validates
// the Pending status inside the transaction, restores every item's stock,
// appends compensating import ledger entries, and stores the cancelled order.
type OrderCancelRequest struct {
	Order    domain.Order
	EntryIDs []string
	Now      time.Time
}

// OrderCancelResult reports the cancelled order and the restore entries.
type OrderCancelResult struct {
	Order   domain.Order
	Entries []domain.LedgerEntry
}

// OrderRepository persists order headers and provides query helpers for users and staff.
type OrderRepository interface {
	Place(ctx context.Context, req OrderPlaceRequest) (OrderPlaceResult, error)
	CancelRestore(ctx context.Context, req OrderCancelRequest) (OrderCancelResult, error)
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// HasDeliveredOrderWithProduct backs the purchase gate for reviews.
	HasDeliveredOrderWithProduct(ctx context.Context, userID string, productID string) (bool, error)
}

// OrderListFilter narrows order listings per user, status set, and date range.
type OrderListFilter struct {
	UserRef    string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ReviewRepository stores product reviews. The one-review-per-(product,user)
// invariant is a storage constraint: implementations key review documents by
// the (product, user) pair and surface a conflict on duplicate insert.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	Update(ctx context.Context, review domain.Review) (domain.Review, error)
	Delete(ctx context.Context, reviewID string) error
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByProductAndUser(ctx context.Context, productID string, userID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	// AllRatingsForProduct feeds the full recomputation pass of the rating
	// aggregator; it returns every rating regardless of page size.
	AllRatingsForProduct(ctx context.Context, productID string) ([]int, error)
}

// LedgerRepository stores the append-only stock movement ledger.
type LedgerRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.LedgerEntry], error)
}

// CounterRepository issues monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
