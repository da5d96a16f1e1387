package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Variant is a product sub-configuration with its own price and stock count.
type Variant struct {
	ID           string
	Size         string
	Color        string
	Price        int64
	CountInStock int
}

// Product captures a sellable catalog item. Rating and NumReviews are derived
// by the rating aggregator; CountInStock equals the sum of variant stocks
// whenever variants exist.
type Product struct {
	ID           string
	SellerRef    string
	Name         string
	Description  string
	Price        int64
	Currency     string
	CountInStock int
	Variants     []Variant
	Rating       float64
	NumReviews   int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VariantByID returns the variant with the given id, if present.
func (p Product) VariantByID(variantID string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == variantID {
			return v, true
		}
	}
	return Variant{}, false
}

// VariantSnapshot is the immutable copy of variant attributes embedded in
// order items and ledger entries at write time.
type VariantSnapshot struct {
	ID    string
	Size  string
	Color string
	Price int64
}

// MovementType enumerates the two directions of a stock movement.
type MovementType string

const (
	// MovementImport adds units to stock (restock or cancellation restore).
	MovementImport MovementType = "import"
	// MovementExport removes units from stock (sale or manual export).
	MovementExport MovementType = "export"
)

// LedgerEntry is one immutable stock movement with the resulting stock
// snapshot. Entries are appended in the same transaction as the stock write
// and never mutated afterwards.
type LedgerEntry struct {
	ID         string
	ProductRef string
	Variant    *VariantSnapshot
	Movement   MovementType
	Quantity   int
	Note       string
	OrderRef   *string
	StockAfter int
	CreatedAt  time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits handling.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock
	// restored. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// KnownOrderStatus reports whether the value is part of the status enum.
func KnownOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentMethod enumerates the supported payment options.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodCreditCard is a direct card payment.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	// PaymentMethodPayPal routes through PayPal.
	PaymentMethodPayPal PaymentMethod = "paypal"
	// PaymentMethodBankTransfer is a manual bank transfer.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodPayOS routes through the PayOS gateway.
	PaymentMethodPayOS PaymentMethod = "payos"
)

// KnownPaymentMethod reports whether the value is part of the method enum.
func KnownPaymentMethod(method PaymentMethod) bool {
	switch method {
	case PaymentMethodCOD, PaymentMethodCreditCard, PaymentMethodPayPal,
		PaymentMethodBankTransfer, PaymentMethodPayOS:
		return true
	}
	return false
}

// ShippingAddress stores the destination snapshot taken at checkout.
type ShippingAddress struct {
	FullName   string
	Address    string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// OrderItem is a snapshot of product (and optional variant) attributes taken
// at order-creation time, immune to later catalog edits.
type OrderItem struct {
	ProductRef string
	Name       string
	UnitPrice  int64
	Quantity   int
	Variant    *VariantSnapshot
	Total      int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Items           int64
	Tax             int64
	Shipping        int64
	Discount        int64
	DiscountApplied bool
	Total           int64
}

// Order captures an order header. Orders are created by checkout, mutated
// only through the order service, and kept forever as audit records.
type Order struct {
	ID              string
	OrderNumber     string
	UserRef         string
	Status          OrderStatus
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Totals          OrderTotals
	Currency        string
	IsPaid          bool
	PaidAt          *time.Time
	PaymentResult   map[string]any
	IsDelivered     bool
	DeliveredAt     *time.Time
	CancelReason    *string
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ContainsProduct reports whether any item of the order references the product.
func (o Order) ContainsProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductRef == productID {
			return true
		}
	}
	return false
}

// Review captures user-generated feedback for a product. At most one review
// exists per (product, user) pair; the repository enforces this.
type Review struct {
	ID         string
	ProductRef string
	UserRef    string
	UserName   string
	Rating     int
	Comment    string
	Images     []string
	IsVerified bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RatingSummary is the derived aggregate written back to the product.
type RatingSummary struct {
	Rating     float64
	NumReviews int
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
