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

const catalogEventStockAdjusted = "stock.adjusted"

var (
	// ErrInventoryInvalidInput signals the caller provided invalid data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the product or variant could not be located.
	ErrInventoryNotFound = errors.New("inventory: not found")
	// ErrInventoryInsufficient indicates an export would drive stock negative.
	ErrInventoryInsufficient = errors.New("inventory: insufficient stock")
	// ErrInventoryForbidden indicates the requester lacks the staff role.
	ErrInventoryForbidden = errors.New("inventory: forbidden")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products    repositories.ProductRepository
	Ledger      repositories.LedgerRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	ledger   repositories.LedgerRepository
	orders   repositories.OrderRepository
	clock    func() time.Time
	newID    func() string
	events   EventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("inventory service: ledger repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("inventory service: order repository is required")
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

	return &inventoryService{
		products: deps.Products,
		ledger:   deps.Ledger,
		orders:   deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *inventoryService) Import(ctx context.Context, cmd StockMovementCommand) (StockMovementResult, error) {
	return s.adjust(ctx, cmd, domain.MovementImport)
}

func (s *inventoryService) Export(ctx context.Context, cmd StockMovementCommand) (StockMovementResult, error) {
	return s.adjust(ctx, cmd, domain.MovementExport)
}

func (s *inventoryService) History(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[HistoryEntry], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[HistoryEntry]{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	page, err := s.ledger.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[HistoryEntry]{}, s.mapRepositoryError(err)
	}

	// One lookup per distinct order on the page; the same order often backs
	// several entries (multi-item sales and their cancellation restores).
	contexts := make(map[string]*HistoryOrderContext)
	entries := make([]HistoryEntry, 0, len(page.Items))
	for _, entry := range page.Items {
		enriched := HistoryEntry{Entry: entry}
		if entry.OrderRef != nil && *entry.OrderRef != "" {
			enriched.Order = s.orderContext(ctx, contexts, *entry.OrderRef)
		}
		entries = append(entries, enriched)
	}

	return domain.CursorPage[HistoryEntry]{
		Items:         entries,
		NextPageToken: page.NextPageToken,
	}, nil
}

// orderContext resolves a linked order, caching per request. Enrichment is
// best effort: a missing or unreadable order leaves the ledger row bare
// rather than failing the listing.
func (s *inventoryService) orderContext(ctx context.Context, cache map[string]*HistoryOrderContext, orderID string) *HistoryOrderContext {
	if cached, ok := cache[orderID]; ok {
		return cached
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		s.logger(ctx, "inventory.history.order.lookup.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		cache[orderID] = nil
		return nil
	}

	resolved := &HistoryOrderContext{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		UserRef:     order.UserRef,
		ShipTo:      order.ShippingAddress,
	}
	cache[orderID] = resolved
	return resolved
}

// adjust applies one movement. The repository writes the new count and the
// ledger entry in a single transaction, so the result here reflects exactly
// what was recorded.
func (s *inventoryService) adjust(ctx context.Context, cmd StockMovementCommand, movement domain.MovementType) (StockMovementResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockMovementResult{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return StockMovementResult{}, fmt.Errorf("%w: quantity must be > 0", ErrInventoryInvalidInput)
	}
	if !cmd.Requester.Staff {
		return StockMovementResult{}, fmt.Errorf("%w: stock movements require staff", ErrInventoryForbidden)
	}

	now := s.now()
	result, err := s.products.AdjustStock(ctx, repositories.StockAdjustRequest{
		EntryID:   entryIDPrefix + s.newID(),
		ProductID: productID,
		VariantID: strings.TrimSpace(cmd.VariantID),
		Movement:  movement,
		Quantity:  cmd.Quantity,
		Note:      strings.TrimSpace(cmd.Note),
		Now:       now,
	})
	if err != nil {
		return StockMovementResult{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventStockAdjusted,
		ProductID:  productID,
		UserID:     strings.TrimSpace(cmd.Requester.UserID),
		OccurredAt: now,
		Payload: map[string]any{
			"movement":    string(movement),
			"quantity":    cmd.Quantity,
			"stock_after": result.StockAfter,
		},
	})

	return StockMovementResult{
		Entry:             result.Entry,
		StockAfter:        result.StockAfter,
		VariantStockAfter: result.VariantStockAfter,
	}, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrInventoryInsufficient, err)
		case repositories.StockErrorProductNotFound, repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *inventoryService) now() time.Time {
	return s.clock()
}

func (s *inventoryService) publishEvent(ctx context.Context, event EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishCatalogEvent(ctx, event); err != nil {
		s.logger(ctx, "inventory.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}
