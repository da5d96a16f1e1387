package services

import (
	"context"
	"time"

	domain "github.com/stonemart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Product         = domain.Product
	Variant         = domain.Variant
	VariantSnapshot = domain.VariantSnapshot
	LedgerEntry     = domain.LedgerEntry
	MovementType    = domain.MovementType
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderTotals     = domain.OrderTotals
	OrderStatus     = domain.OrderStatus
	PaymentMethod   = domain.PaymentMethod
	ShippingAddress = domain.ShippingAddress
	Review          = domain.Review
	RatingSummary   = domain.RatingSummary
)

// Requester identifies the caller for ownership and privilege checks.
type Requester struct {
	UserID string
	Name   string
	Staff  bool
}

// CatalogService owns product reads and privileged catalog writes.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// InventoryService applies manual stock movements and exposes the ledger.
type InventoryService interface {
	Import(ctx context.Context, cmd StockMovementCommand) (StockMovementResult, error)
	Export(ctx context.Context, cmd StockMovementCommand) (StockMovementResult, error)
	// History lists ledger entries newest first, joining each order-linked
	// entry with its order header so staff see what a sale shipped where.
	History(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[HistoryEntry], error)
}

// HistoryEntry pairs a ledger entry with the read-side order join. Order is
// nil for manual movements and for entries whose order no longer resolves.
type HistoryEntry struct {
	Entry LedgerEntry
	Order *HistoryOrderContext
}

// HistoryOrderContext is the slice of the linked order worth showing next to
// a ledger row.
type HistoryOrderContext struct {
	OrderID     string
	OrderNumber string
	Status      OrderStatus
	UserRef     string
	ShipTo      ShippingAddress
}

// OrderService drives the order lifecycle: placement with atomic stock
// decrements, the status state machine, cancellation with compensating
// restores, and payment confirmation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string, requester Requester) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
}

// ReviewService enforces the purchase gate and the one-review-per-user rule,
// and keeps the product rating aggregate in sync.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error)
	Delete(ctx context.Context, cmd DeleteReviewCommand) error
	SetVerified(ctx context.Context, cmd SetReviewVerifiedCommand) (Review, error)
	ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error)
}

// EventMessage is the envelope published to Pub/Sub for downstream consumers.
type EventMessage struct {
	Type       string
	OrderID    string
	ProductID  string
	UserID     string
	OccurredAt time.Time
	Payload    map[string]any
}

// EventPublisher publishes domain events. Implementations return the broker
// message id for logging.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event EventMessage) (string, error)
	PublishCatalogEvent(ctx context.Context, event EventMessage) (string, error)
}

// CreateProductCommand describes a privileged catalog insert. InitialStock
// seeds the counter and, when positive, an import ledger entry records it.
type CreateProductCommand struct {
	Name         string
	Description  string
	Price        int64
	Currency     string
	Variants     []Variant
	InitialStock int
	IsActive     bool
	SellerRef    string
	Requester    Requester
}

// UpdateProductCommand overwrites mutable catalog fields. Stock counts are
// never written here, movements go through the inventory service.
type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Price       *int64
	IsActive    *bool
	Requester   Requester
}

// ProductListFilter controls catalog listings.
type ProductListFilter struct {
	SellerRef  string
	ActiveOnly bool
	Pagination Pagination
}

// StockMovementCommand describes one manual import or export.
type StockMovementCommand struct {
	ProductID string
	VariantID string
	Quantity  int
	Note      string
	Requester Requester
}

// StockMovementResult reports the ledger entry and the post-movement counts.
type StockMovementResult struct {
	Entry             LedgerEntry
	StockAfter        int
	VariantStockAfter *int
}

// CreateOrderItemInput names a product (and optionally a variant) plus a
// quantity. Prices and names are snapshotted from the catalog, not trusted
// from the caller.
type CreateOrderItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateOrderCommand places an order for the requester.
type CreateOrderCommand struct {
	Items           []CreateOrderItemInput
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Requester       Requester
}

// OrderListFilter narrows order listings. Non-staff requesters are always
// scoped to their own orders regardless of UserID.
type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
	Requester  Requester
}

// OrderStatusCommand requests a state machine transition. Staff only.
type OrderStatusCommand struct {
	OrderID   string
	Target    OrderStatus
	Requester Requester
}

// CancelOrderCommand cancels a pending order and restores its stock.
type CancelOrderCommand struct {
	OrderID   string
	Reason    string
	Requester Requester
}

// MarkPaidCommand confirms payment, typically from a verified provider
// webhook. Repeated confirmations are idempotent.
type MarkPaidCommand struct {
	OrderID       string
	PaymentResult map[string]any
	Requester     Requester
}

// CreateReviewCommand submits a review. The service verifies the requester
// has a delivered order containing the product before accepting it.
type CreateReviewCommand struct {
	ProductID string
	Rating    int
	Comment   string
	Images    []string
	Requester Requester
}

// UpdateReviewCommand edits the requester's own review.
type UpdateReviewCommand struct {
	ProductID string
	Rating    *int
	Comment   *string
	Images    []string
	Requester Requester
}

// DeleteReviewCommand removes a review. Owners and staff may delete.
type DeleteReviewCommand struct {
	ProductID string
	UserID    string
	Requester Requester
}

// SetReviewVerifiedCommand sets or clears the verification badge. Staff only.
type SetReviewVerifiedCommand struct {
	ProductID string
	UserID    string
	Verified  bool
	Requester Requester
}
