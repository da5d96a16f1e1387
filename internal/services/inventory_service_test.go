package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/repositories"
)

func newTestInventoryService(t *testing.T, products *stubProductRepo, ledger *stubLedgerRepo, orders *stubOrderRepo, events EventPublisher, now time.Time) InventoryService {
	t.Helper()
	if orders == nil {
		orders = &stubOrderRepo{}
	}
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products:    products,
		Ledger:      ledger,
		Orders:      orders,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs("inv"),
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestInventoryServiceImport(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	events := &captureEvents{}

	var adjusted repositories.StockAdjustRequest
	products := &stubProductRepo{
		adjustFn: func(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			adjusted = req
			return repositories.StockAdjustResult{
				Entry: domain.LedgerEntry{
					ID:         req.EntryID,
					ProductRef: req.ProductID,
					Movement:   req.Movement,
					Quantity:   req.Quantity,
					Note:       req.Note,
					StockAfter: 15,
					CreatedAt:  req.Now,
				},
				StockAfter: 15,
			}, nil
		},
	}
	svc := newTestInventoryService(t, products, &stubLedgerRepo{}, nil, events, now)

	result, err := svc.Import(ctx, StockMovementCommand{
		ProductID: "prd-granite",
		Quantity:  5,
		Note:      "restock from quarry",
		Requester: Requester{UserID: "staff-1", Staff: true},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if adjusted.Movement != domain.MovementImport {
		t.Fatalf("expected import movement, got %s", adjusted.Movement)
	}
	if adjusted.Quantity != 5 || adjusted.Note != "restock from quarry" {
		t.Fatalf("unexpected adjust request %+v", adjusted)
	}
	if adjusted.EntryID == "" {
		t.Fatal("entry id must be generated by the service")
	}
	if !adjusted.Now.Equal(now) {
		t.Fatalf("expected fixed clock, got %v", adjusted.Now)
	}
	if result.StockAfter != 15 {
		t.Fatalf("expected stock 15, got %d", result.StockAfter)
	}
	if result.Entry.StockAfter != 15 {
		t.Fatalf("ledger entry must carry the post-movement count, got %d", result.Entry.StockAfter)
	}

	if len(events.catalog) != 1 || events.catalog[0].Type != "stock.adjusted" {
		t.Fatalf("expected stock.adjusted event, got %+v", events.catalog)
	}
	if events.catalog[0].Payload["stock_after"] != 15 {
		t.Fatalf("event payload missing stock_after: %+v", events.catalog[0].Payload)
	}
}

func TestInventoryServiceExportInsufficient(t *testing.T) {
	ctx := context.Background()
	products := &stubProductRepo{
		adjustFn: func(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			if req.Movement != domain.MovementExport {
				t.Fatalf("expected export movement, got %s", req.Movement)
			}
			return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInsufficient, "have 2, need 9", nil)
		},
	}
	svc := newTestInventoryService(t, products, &stubLedgerRepo{}, nil, nil, time.Now())

	_, err := svc.Export(ctx, StockMovementCommand{
		ProductID: "prd-granite",
		Quantity:  9,
		Requester: Requester{UserID: "staff-1", Staff: true},
	})
	if !errors.Is(err, ErrInventoryInsufficient) {
		t.Fatalf("expected insufficient, got %v", err)
	}
}

func TestInventoryServiceMovementValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestInventoryService(t, &stubProductRepo{}, &stubLedgerRepo{}, nil, nil, time.Now())

	if _, err := svc.Import(ctx, StockMovementCommand{
		Quantity:  5,
		Requester: Requester{UserID: "staff-1", Staff: true},
	}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for missing product, got %v", err)
	}

	if _, err := svc.Import(ctx, StockMovementCommand{
		ProductID: "prd-granite",
		Quantity:  0,
		Requester: Requester{UserID: "staff-1", Staff: true},
	}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}

	if _, err := svc.Export(ctx, StockMovementCommand{
		ProductID: "prd-granite",
		Quantity:  -3,
		Requester: Requester{UserID: "staff-1", Staff: true},
	}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for negative quantity, got %v", err)
	}
}

func TestInventoryServiceRequiresStaff(t *testing.T) {
	ctx := context.Background()
	svc := newTestInventoryService(t, &stubProductRepo{}, &stubLedgerRepo{}, nil, nil, time.Now())

	_, err := svc.Import(ctx, StockMovementCommand{
		ProductID: "prd-granite",
		Quantity:  5,
		Requester: Requester{UserID: "user-1"},
	})
	if !errors.Is(err, ErrInventoryForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestInventoryServiceMapsUnknownProduct(t *testing.T) {
	ctx := context.Background()
	products := &stubProductRepo{
		adjustFn: func(_ context.Context, _ repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
			return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "product prd-missing not found", nil)
		},
	}
	svc := newTestInventoryService(t, products, &stubLedgerRepo{}, nil, nil, time.Now())

	_, err := svc.Import(ctx, StockMovementCommand{
		ProductID: "prd-missing",
		Quantity:  1,
		Requester: Requester{UserID: "staff-1", Staff: true},
	})
	if !errors.Is(err, ErrInventoryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInventoryServiceHistoryJoinsOrders(t *testing.T) {
	ctx := context.Background()
	orderRef := "ord-77"
	ledger := &stubLedgerRepo{
		listFn: func(_ context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.LedgerEntry], error) {
			if productID != "prd-granite" {
				t.Fatalf("unexpected product id %s", productID)
			}
			if pager.PageSize != 25 {
				t.Fatalf("unexpected page size %d", pager.PageSize)
			}
			return domain.CursorPage[domain.LedgerEntry]{
				Items: []domain.LedgerEntry{
					{ID: "led-3", Movement: domain.MovementExport, Quantity: 1, OrderRef: &orderRef},
					{ID: "led-2", Movement: domain.MovementExport, Quantity: 2, OrderRef: &orderRef},
					{ID: "led-1", Movement: domain.MovementImport, Quantity: 10},
				},
				NextPageToken: "next",
			}, nil
		},
	}

	lookups := 0
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			lookups++
			if orderID != orderRef {
				t.Fatalf("unexpected order lookup %s", orderID)
			}
			return domain.Order{
				ID:          orderRef,
				OrderNumber: "SM-2026-000077",
				UserRef:     "user-9",
				Status:      domain.OrderStatusShipped,
				ShippingAddress: domain.ShippingAddress{
					FullName:   "Rosa Mason",
					Address:    "12 Quarry Lane",
					City:       "Aberdeen",
					PostalCode: "AB10 1AA",
					Country:    "GB",
					Phone:      "+44 1224 000000",
				},
			}, nil
		},
	}
	svc := newTestInventoryService(t, &stubProductRepo{}, ledger, orders, nil, time.Now())

	page, err := svc.History(ctx, "prd-granite", Pagination{PageSize: 25})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Items) != 3 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
	for _, i := range []int{0, 1} {
		joined := page.Items[i].Order
		if joined == nil {
			t.Fatalf("entry %d must carry order context", i)
		}
		if joined.OrderNumber != "SM-2026-000077" || joined.Status != domain.OrderStatusShipped {
			t.Fatalf("unexpected order context %+v", joined)
		}
		if joined.ShipTo.City != "Aberdeen" || joined.ShipTo.FullName != "Rosa Mason" {
			t.Fatalf("missing shipping context %+v", joined.ShipTo)
		}
	}
	if page.Items[2].Order != nil {
		t.Fatalf("manual import must not carry order context, got %+v", page.Items[2].Order)
	}
	if lookups != 1 {
		t.Fatalf("expected one lookup for a repeated order ref, got %d", lookups)
	}
}

func TestInventoryServiceHistoryToleratesMissingOrder(t *testing.T) {
	ctx := context.Background()
	orderRef := "ord-gone"
	ledger := &stubLedgerRepo{
		listFn: func(_ context.Context, _ string, _ domain.Pagination) (domain.CursorPage[domain.LedgerEntry], error) {
			return domain.CursorPage[domain.LedgerEntry]{
				Items: []domain.LedgerEntry{
					{ID: "led-1", Movement: domain.MovementExport, Quantity: 1, OrderRef: &orderRef},
				},
			}, nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return domain.Order{}, &fakeRepoError{notFound: true}
		},
	}
	svc := newTestInventoryService(t, &stubProductRepo{}, ledger, orders, nil, time.Now())

	page, err := svc.History(ctx, "prd-granite", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("history must not fail on a dangling order ref: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Order != nil {
		t.Fatalf("expected a bare entry, got %+v", page.Items)
	}
}
