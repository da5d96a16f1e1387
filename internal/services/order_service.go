package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"
	orderEventPaid          = "order.paid"

	orderIDPrefix = "ord_"
	entryIDPrefix = "led_"

	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates an ordered product does not exist.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate write or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the requester does not own the order and is not staff.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInsufficientStock indicates an item could not be fulfilled from stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

// orderStateTransitions encodes the lifecycle. Cancellation is deliberately
// absent: it runs through Cancel, which also restores stock.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// OrderPricing configures totals computation. Amounts are minor currency units.
type OrderPricing struct {
	TaxRateBasisPoints    int
	FreeShippingThreshold int64
	ShippingFlatFee       int64
	Currency              string
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Pricing     OrderPricing
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	counters repositories.CounterRepository
	pricing  OrderPricing
	clock    func() time.Time
	newID    func() string
	events   EventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	pricing := deps.Pricing
	if pricing.Currency == "" {
		pricing.Currency = "USD"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		counters: deps.Counters,
		pricing:  pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.Requester.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: requester is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if !domain.KnownPaymentMethod(cmd.PaymentMethod) {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	items, err := s.snapshotItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:              orderIDPrefix + s.newID(),
		UserRef:         userID,
		Status:          domain.OrderStatusPending,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		Totals:          s.computeTotals(items),
		Currency:        s.pricing.Currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	entryIDs := make([]string, len(items))
	for i := range items {
		entryIDs[i] = entryIDPrefix + s.newID()
	}

	result, err := s.orders.Place(ctx, repositories.OrderPlaceRequest{
		Order:    order,
		EntryIDs: entryIDs,
		Now:      now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       orderEventCreated,
		OrderID:    result.Order.ID,
		UserID:     userID,
		OccurredAt: now,
		Payload: map[string]any{
			"order_number": result.Order.OrderNumber,
			"total":        result.Order.Totals.Total,
			"items":        len(result.Order.Items),
		},
	})

	return result.Order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, requester Requester) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !requester.Staff && order.UserRef != strings.TrimSpace(requester.UserID) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userRef := strings.TrimSpace(filter.UserID)
	if !filter.Requester.Staff {
		userRef = strings.TrimSpace(filter.Requester.UserID)
		if userRef == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: requester is required", ErrOrderInvalidInput)
		}
	}
	for _, status := range filter.Status {
		if !domain.KnownOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserRef:    userRef,
		Status:     filter.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Requester.Staff {
		return Order{}, fmt.Errorf("%w: status transitions require staff", ErrOrderForbidden)
	}
	if cmd.Target == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancellation must go through cancel, which restores stock", ErrOrderInvalidState)
	}
	if !domain.KnownOrderStatus(cmd.Target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	prev := order.Status
	if prev == cmd.Target {
		return order, nil
	}
	if !canTransition(prev, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, prev, cmd.Target)
	}

	now := s.now()
	order.Status = cmd.Target
	order.UpdatedAt = now
	if cmd.Target == domain.OrderStatusDelivered {
		order.IsDelivered = true
		order.DeliveredAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       orderEventStatusChanged,
		OrderID:    order.ID,
		UserID:     order.UserRef,
		OccurredAt: now,
		Payload: map[string]any{
			"previous_status": string(prev),
			"current_status":  string(order.Status),
			"actor":           strings.TrimSpace(cmd.Requester.UserID),
		},
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.Requester.Staff && order.UserRef != strings.TrimSpace(cmd.Requester.UserID) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = optionalString(reason)
	order.CancelledAt = &now
	order.UpdatedAt = now

	entryIDs := make([]string, len(order.Items))
	for i := range order.Items {
		entryIDs[i] = entryIDPrefix + s.newID()
	}

	// The repository re-validates the pending status inside the transaction,
	// so a concurrent transition cannot slip between the read above and the
	// restore below.
	result, err := s.orders.CancelRestore(ctx, repositories.OrderCancelRequest{
		Order:    order,
		EntryIDs: entryIDs,
		Now:      now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       orderEventCancelled,
		OrderID:    result.Order.ID,
		UserID:     result.Order.UserRef,
		OccurredAt: now,
		Payload: map[string]any{
			"reason": reason,
			"actor":  strings.TrimSpace(cmd.Requester.UserID),
		},
	})

	return result.Order, nil
}

func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancelled orders cannot be paid", ErrOrderInvalidState)
	}
	if order.IsPaid {
		return order, nil
	}

	now := s.now()
	order.IsPaid = true
	order.PaidAt = &now
	order.PaymentResult = cmd.PaymentResult
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       orderEventPaid,
		OrderID:    order.ID,
		UserID:     order.UserRef,
		OccurredAt: now,
		Payload: map[string]any{
			"order_number": order.OrderNumber,
			"total":        order.Totals.Total,
		},
	})

	return order, nil
}

// snapshotItems resolves each input against the catalog, copying name, price,
// and variant attributes into the order so later catalog edits cannot change
// what was sold. Stock is not checked here: the placement transaction is the
// single authority on availability.
func (s *orderService) snapshotItems(ctx context.Context, inputs []CreateOrderItemInput) ([]OrderItem, error) {
	productCache := make(map[string]Product)
	items := make([]OrderItem, 0, len(inputs))

	for _, input := range inputs {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be > 0", ErrOrderInvalidInput)
		}

		product, ok := productCache[productID]
		if !ok {
			loaded, err := s.products.FindByID(ctx, productID)
			if err != nil {
				var repoErr repositories.RepositoryError
				if errors.As(err, &repoErr) && repoErr.IsNotFound() {
					return nil, fmt.Errorf("%w: %s", ErrOrderProductNotFound, productID)
				}
				return nil, s.mapRepositoryError(err)
			}
			product = loaded
			productCache[productID] = product
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, productID)
		}

		item := OrderItem{
			ProductRef: productID,
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   input.Quantity,
		}

		if variantID := strings.TrimSpace(input.VariantID); variantID != "" {
			variant, ok := product.VariantByID(variantID)
			if !ok {
				return nil, fmt.Errorf("%w: product %s has no variant %s", ErrOrderInvalidInput, productID, variantID)
			}
			item.UnitPrice = variant.Price
			item.Variant = &VariantSnapshot{
				ID:    variant.ID,
				Size:  variant.Size,
				Color: variant.Color,
				Price: variant.Price,
			}
		} else if len(product.Variants) > 0 {
			return nil, fmt.Errorf("%w: product %s requires a variant", ErrOrderInvalidInput, productID)
		}

		item.Total = item.UnitPrice * int64(item.Quantity)
		items = append(items, item)
	}

	return items, nil
}

func (s *orderService) computeTotals(items []OrderItem) OrderTotals {
	var itemsTotal int64
	for _, item := range items {
		itemsTotal += item.Total
	}

	tax := itemsTotal * int64(s.pricing.TaxRateBasisPoints) / 10000

	shipping := s.pricing.ShippingFlatFee
	if s.pricing.FreeShippingThreshold > 0 && itemsTotal >= s.pricing.FreeShippingThreshold {
		shipping = 0
	}

	return OrderTotals{
		Items:    itemsTotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    itemsTotal + tax + shipping,
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.StockErrorProductNotFound, repositories.StockErrorVariantNotFound, repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotPending:
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		case repositories.OrderErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validateShippingAddress(addr ShippingAddress) error {
	if strings.TrimSpace(addr.FullName) == "" {
		return fmt.Errorf("%w: shipping full name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Address) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: shipping country is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Phone) == "" {
		return fmt.Errorf("%w: shipping phone is required", ErrOrderInvalidInput)
	}
	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}
