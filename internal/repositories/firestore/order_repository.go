package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/stonemart/api/internal/domain"
	pfirestore "github.com/stonemart/api/internal/platform/firestore"
	"github.com/stonemart/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders. Placement and cancellation run inside a
// single transaction spanning the order document, every touched product, and
// the ledger entries, so partial writes cannot occur.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	ledger   *pfirestore.BaseRepository[ledgerDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		ledger:   pfirestore.NewBaseRepository[ledgerDocument](provider, ledgerCollection, nil, nil),
	}, nil
}

// Place stores the order, decrements stock for every item, and appends export
// ledger entries, all in one transaction.
func (r *OrderRepository) Place(ctx context.Context, req repositories.OrderPlaceRequest) (repositories.OrderPlaceResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderPlaceResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderPlaceResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order place: id is required", nil)
	}
	if len(order.Items) == 0 {
		return repositories.OrderPlaceResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order place: at least one item is required", nil)
	}
	if len(req.EntryIDs) != len(order.Items) {
		return repositories.OrderPlaceResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order place: one ledger entry id per item is required", nil)
	}

	now := req.Now.UTC()
	var result repositories.OrderPlaceResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		products, err := r.readItemProducts(ctx, tx, order.Items)
		if err != nil {
			return err
		}

		entries := make([]domain.LedgerEntry, 0, len(order.Items))
		entryDocs := make([]ledgerDocument, 0, len(order.Items))
		for _, item := range order.Items {
			doc := products[item.ProductRef]
			stockAfter, err := applyMovement(doc, item.ProductRef, item.Variant, -item.Quantity, item.Quantity)
			if err != nil {
				return err
			}
			orderID := order.ID
			entryDoc := ledgerDocument{
				ProductRef: item.ProductRef,
				Variant:    newVariantSnapshotDocument(item.Variant),
				Movement:   string(domain.MovementExport),
				Quantity:   item.Quantity,
				OrderRef:   &orderID,
				StockAfter: stockAfter,
				CreatedAt:  now,
			}
			entryDocs = append(entryDocs, entryDoc)
		}

		for productID, doc := range products {
			doc.UpdatedAt = now
			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			if err := tx.Set(productRef, *doc); err != nil {
				return err
			}
		}

		orderDoc := newOrderDocument(order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}

		for i, entryDoc := range entryDocs {
			entryRef, err := r.ledger.DocumentRef(ctx, req.EntryIDs[i])
			if err != nil {
				return err
			}
			if err := tx.Create(entryRef, entryDoc); err != nil {
				return err
			}
			entries = append(entries, entryDoc.toDomain(req.EntryIDs[i]))
		}

		result = repositories.OrderPlaceResult{
			Order:   orderDoc.toDomain(order.ID),
			Entries: entries,
		}
		return nil
	})
	if err != nil {
		return repositories.OrderPlaceResult{}, wrapOrderError("orders.place", err)
	}
	return result, nil
}

// CancelRestore re-validates the pending status inside the transaction,
// restores every item's stock, appends compensating import entries, and
// stores the cancelled order.
func (r *OrderRepository) CancelRestore(ctx context.Context, req repositories.OrderCancelRequest) (repositories.OrderCancelResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCancelResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCancelResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order cancel: id is required", nil)
	}
	if len(req.EntryIDs) != len(order.Items) {
		return repositories.OrderCancelResult{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order cancel: one ledger entry id per item is required", nil)
	}

	now := req.Now.UTC()
	var result repositories.OrderCancelResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if stored.Status != string(domain.OrderStatusPending) {
			return repositories.NewOrderError(repositories.OrderErrorNotPending, fmt.Sprintf("order %s is %s, only pending orders can be cancelled", order.ID, stored.Status), nil)
		}

		products, err := r.readItemProducts(ctx, tx, order.Items)
		if err != nil {
			return err
		}

		entries := make([]domain.LedgerEntry, 0, len(order.Items))
		entryDocs := make([]ledgerDocument, 0, len(order.Items))
		for _, item := range order.Items {
			doc := products[item.ProductRef]
			stockAfter, err := applyMovement(doc, item.ProductRef, item.Variant, item.Quantity, item.Quantity)
			if err != nil {
				return err
			}
			orderID := order.ID
			entryDocs = append(entryDocs, ledgerDocument{
				ProductRef: item.ProductRef,
				Variant:    newVariantSnapshotDocument(item.Variant),
				Movement:   string(domain.MovementImport),
				Quantity:   item.Quantity,
				Note:       "order cancelled",
				OrderRef:   &orderID,
				StockAfter: stockAfter,
				CreatedAt:  now,
			})
		}

		for productID, doc := range products {
			doc.UpdatedAt = now
			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			if err := tx.Set(productRef, *doc); err != nil {
				return err
			}
		}

		orderDoc := newOrderDocument(order)
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		for i, entryDoc := range entryDocs {
			entryRef, err := r.ledger.DocumentRef(ctx, req.EntryIDs[i])
			if err != nil {
				return err
			}
			if err := tx.Create(entryRef, entryDoc); err != nil {
				return err
			}
			entries = append(entries, entryDoc.toDomain(req.EntryIDs[i]))
		}

		result = repositories.OrderCancelResult{
			Order:   orderDoc.toDomain(order.ID),
			Entries: entries,
		}
		return nil
	})
	if err != nil {
		return repositories.OrderCancelResult{}, wrapOrderError("orders.cancel", err)
	}
	return result, nil
}

// Update overwrites the order document. Used for status transitions and
// payment confirmation, which never touch stock.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order update: id is required", nil)
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, newOrderDocument(order), firestore.Merge()); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order find: id is required", nil)
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders, newest first, narrowed by user, status, and date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if user := strings.TrimSpace(filter.UserRef); user != "" {
		query = query.Where("userRef", "==", user)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// HasDeliveredOrderWithProduct backs the purchase gate: it reports whether the
// user has at least one delivered order containing the product.
func (r *OrderRepository) HasDeliveredOrderWithProduct(ctx context.Context, userID string, productID string) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return false, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "purchase check: user id and product id are required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, pfirestore.WrapError("orders.purchaseCheck", err)
	}

	iter := client.Collection(ordersCollection).Query.
		Where("userRef", "==", userID).
		Where("status", "==", string(domain.OrderStatusDelivered)).
		Where("productRefs", "array-contains", productID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("orders.purchaseCheck", err)
	}
	return true, nil
}

// readItemProducts fetches each distinct product referenced by the items
// exactly once. Firestore transactions forbid reads after writes, so all
// product reads happen before any mutation.
func (r *OrderRepository) readItemProducts(ctx context.Context, tx *firestore.Transaction, items []domain.OrderItem) (map[string]*productDocument, error) {
	products := make(map[string]*productDocument)
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductRef)
		if productID == "" {
			return nil, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order item missing product ref", nil)
		}
		if item.Quantity <= 0 {
			return nil, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("quantity for product %s must be > 0", productID), nil)
		}
		if _, ok := products[productID]; ok {
			continue
		}
		productRef, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", productID, err)
		}
		products[productID] = &doc
	}
	return products, nil
}

// applyMovement mutates the in-memory product document by delta and returns
// the resulting product-level stock count. quantity is only used in messages.
func applyMovement(doc *productDocument, productID string, variant *domain.VariantSnapshot, delta int, quantity int) (int, error) {
	if variant != nil {
		idx := doc.variantIndex(variant.ID)
		if idx < 0 {
			return 0, repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found on product %s", variant.ID, productID), nil)
		}
		next := doc.Variants[idx].CountInStock + delta
		if next < 0 {
			return 0, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for variant %s: have %d, need %d", variant.ID, doc.Variants[idx].CountInStock, quantity), nil)
		}
		doc.Variants[idx].CountInStock = next
		doc.CountInStock = doc.variantStockSum()
		return doc.CountInStock, nil
	}

	if len(doc.Variants) > 0 {
		return 0, repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("product %s requires a variant for stock movements", productID), nil)
	}
	next := doc.CountInStock + delta
	if next < 0 {
		return 0, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for product %s: have %d, need %d", productID, doc.CountInStock, quantity), nil)
	}
	doc.CountInStock = next
	return doc.CountInStock, nil
}

// Helper structures ---------------------------------------------------------

type shippingAddressDocument struct {
	FullName   string `firestore:"fullName"`
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone"`
}

type orderItemDocument struct {
	ProductRef string                   `firestore:"productRef"`
	Name       string                   `firestore:"name"`
	UnitPrice  int64                    `firestore:"unitPrice"`
	Quantity   int                      `firestore:"qty"`
	Variant    *variantSnapshotDocument `firestore:"variant,omitempty"`
	Total      int64                    `firestore:"total"`
}

type orderTotalsDocument struct {
	Items           int64 `firestore:"items"`
	Tax             int64 `firestore:"tax"`
	Shipping        int64 `firestore:"shipping"`
	Discount        int64 `firestore:"discount"`
	DiscountApplied bool  `firestore:"discountApplied"`
	Total           int64 `firestore:"total"`
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	UserRef         string                  `firestore:"userRef"`
	Status          string                  `firestore:"status"`
	Items           []orderItemDocument     `firestore:"items"`
	ProductRefs     []string                `firestore:"productRefs"`
	ShippingAddress shippingAddressDocument `firestore:"shippingAddress"`
	PaymentMethod   string                  `firestore:"paymentMethod"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	Currency        string                  `firestore:"currency"`
	IsPaid          bool                    `firestore:"isPaid"`
	PaidAt          *time.Time              `firestore:"paidAt,omitempty"`
	PaymentResult   map[string]any          `firestore:"paymentResult,omitempty"`
	IsDelivered     bool                    `firestore:"isDelivered"`
	DeliveredAt     *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelReason    *string                 `firestore:"cancelReason,omitempty"`
	CancelledAt     *time.Time              `firestore:"cancelledAt,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	productRefs := make([]string, 0, len(order.Items))
	seen := make(map[string]struct{}, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Variant:    newVariantSnapshotDocument(item.Variant),
			Total:      item.Total,
		}
		if _, ok := seen[items[i].ProductRef]; !ok {
			seen[items[i].ProductRef] = struct{}{}
			productRefs = append(productRefs, items[i].ProductRef)
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserRef:     strings.TrimSpace(order.UserRef),
		Status:      string(order.Status),
		Items:       items,
		ProductRefs: productRefs,
		ShippingAddress: shippingAddressDocument{
			FullName:   strings.TrimSpace(order.ShippingAddress.FullName),
			Address:    strings.TrimSpace(order.ShippingAddress.Address),
			City:       strings.TrimSpace(order.ShippingAddress.City),
			PostalCode: strings.TrimSpace(order.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(order.ShippingAddress.Country),
			Phone:      strings.TrimSpace(order.ShippingAddress.Phone),
		},
		PaymentMethod: string(order.PaymentMethod),
		Totals: orderTotalsDocument{
			Items:           order.Totals.Items,
			Tax:             order.Totals.Tax,
			Shipping:        order.Totals.Shipping,
			Discount:        order.Totals.Discount,
			DiscountApplied: order.Totals.DiscountApplied,
			Total:           order.Totals.Total,
		},
		Currency:      strings.TrimSpace(order.Currency),
		IsPaid:        order.IsPaid,
		PaidAt:        order.PaidAt,
		PaymentResult: order.PaymentResult,
		IsDelivered:   order.IsDelivered,
		DeliveredAt:   order.DeliveredAt,
		CancelReason:  order.CancelReason,
		CancelledAt:   order.CancelledAt,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Variant:    item.Variant.toDomain(),
			Total:      item.Total,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserRef:     d.UserRef,
		Status:      domain.OrderStatus(d.Status),
		Items:       items,
		ShippingAddress: domain.ShippingAddress{
			FullName:   d.ShippingAddress.FullName,
			Address:    d.ShippingAddress.Address,
			City:       d.ShippingAddress.City,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Totals: domain.OrderTotals{
			Items:           d.Totals.Items,
			Tax:             d.Totals.Tax,
			Shipping:        d.Totals.Shipping,
			Discount:        d.Totals.Discount,
			DiscountApplied: d.Totals.DiscountApplied,
			Total:           d.Totals.Total,
		},
		Currency:      d.Currency,
		IsPaid:        d.IsPaid,
		PaidAt:        d.PaidAt,
		PaymentResult: d.PaymentResult,
		IsDelivered:   d.IsDelivered,
		DeliveredAt:   d.DeliveredAt,
		CancelReason:  d.CancelReason,
		CancelledAt:   d.CancelledAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("decode order page token json: %w", err)
	}
	return token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
