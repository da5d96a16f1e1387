package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/platform/auth"
	"github.com/stonemart/api/internal/services"
)

type stubInventoryService struct {
	importFn  func(context.Context, services.StockMovementCommand) (services.StockMovementResult, error)
	exportFn  func(context.Context, services.StockMovementCommand) (services.StockMovementResult, error)
	historyFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.HistoryEntry], error)
}

func (s *stubInventoryService) Import(ctx context.Context, cmd services.StockMovementCommand) (services.StockMovementResult, error) {
	if s.importFn != nil {
		return s.importFn(ctx, cmd)
	}
	return services.StockMovementResult{}, errors.New("not implemented")
}

func (s *stubInventoryService) Export(ctx context.Context, cmd services.StockMovementCommand) (services.StockMovementResult, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, cmd)
	}
	return services.StockMovementResult{}, errors.New("not implemented")
}

func (s *stubInventoryService) History(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.HistoryEntry], error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, productID, pager)
	}
	return domain.CursorPage[services.HistoryEntry]{}, nil
}

func newAdminRouter(catalog services.CatalogService, inventory services.InventoryService, orders services.OrderService, reviews services.ReviewService) chi.Router {
	handler := NewAdminHandlers(nil, catalog, inventory, orders, reviews)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func asStaff(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{
		UID:   "staff-1",
		Name:  "Ops Staff",
		Roles: []string{auth.RoleStaff},
	}))
}

func TestAdminHandlersCreateProductSuccess(t *testing.T) {
	var captured services.CreateProductCommand
	catalog := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{
				ID:           "prd_new",
				Name:         cmd.Name,
				Price:        cmd.Price,
				Currency:     "USD",
				CountInStock: cmd.InitialStock,
				IsActive:     cmd.IsActive,
			}, nil
		},
	}

	body := `{
		"name": " Granite Slab ",
		"description": "Polished 2cm slab",
		"price": 4500,
		"initial_stock": 12,
		"variants": [{"id": "var-a", "size": "2cm", "price": 4500, "count_in_stock": 12}]
	}`
	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	newAdminRouter(catalog, nil, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Name != "Granite Slab" {
		t.Fatalf("expected trimmed name, got %q", captured.Name)
	}
	if !captured.IsActive {
		t.Fatalf("expected new products to default to active")
	}
	if len(captured.Variants) != 1 || captured.Variants[0].ID != "var-a" {
		t.Fatalf("unexpected variants: %#v", captured.Variants)
	}
	if !captured.Requester.Staff {
		t.Fatalf("expected staff requester")
	}
}

func TestAdminHandlersCreateProductInvalidInput(t *testing.T) {
	catalog := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			return services.Product{}, services.ErrCatalogInvalidInput
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(`{"name":"","price":-1}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(catalog, nil, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateProductSuccess(t *testing.T) {
	var captured services.UpdateProductCommand
	catalog := &stubCatalogService{
		updateFn: func(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: cmd.ProductID, Name: "Renamed", Price: 4900, IsActive: false}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPatch, "/admin/products/prd_1", strings.NewReader(`{"name":"Renamed","price":4900,"is_active":false}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(catalog, nil, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" {
		t.Fatalf("expected product id prd_1, got %s", captured.ProductID)
	}
	if captured.Name == nil || *captured.Name != "Renamed" {
		t.Fatalf("expected name pointer, got %#v", captured.Name)
	}
	if captured.IsActive == nil || *captured.IsActive {
		t.Fatalf("expected is_active pointer false, got %#v", captured.IsActive)
	}
	if captured.Description != nil {
		t.Fatalf("expected description untouched, got %#v", captured.Description)
	}
}

func TestAdminHandlersImportStockSuccess(t *testing.T) {
	now := time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC)
	var captured services.StockMovementCommand
	inventory := &stubInventoryService{
		importFn: func(ctx context.Context, cmd services.StockMovementCommand) (services.StockMovementResult, error) {
			captured = cmd
			return services.StockMovementResult{
				Entry: services.LedgerEntry{
					ID:         "led_1",
					ProductRef: cmd.ProductID,
					Movement:   domain.MovementImport,
					Quantity:   5,
					Note:       cmd.Note,
					StockAfter: 15,
					CreatedAt:  now,
				},
				StockAfter: 15,
			}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/products/prd_1/stock:import", strings.NewReader(`{"quantity":5,"note":"restock"}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, inventory, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" || captured.Quantity != 5 || captured.Note != "restock" {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp stockMovementResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.StockAfter != 15 {
		t.Fatalf("expected stock 15, got %d", resp.StockAfter)
	}
	if resp.Entry.Movement != "import" || resp.Entry.StockAfter != 15 {
		t.Fatalf("unexpected entry payload: %#v", resp.Entry)
	}
}

func TestAdminHandlersExportStockInsufficient(t *testing.T) {
	inventory := &stubInventoryService{
		exportFn: func(ctx context.Context, cmd services.StockMovementCommand) (services.StockMovementResult, error) {
			return services.StockMovementResult{}, services.ErrInventoryInsufficient
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/products/prd_1/stock:export", strings.NewReader(`{"quantity":99}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, inventory, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "insufficient_stock") {
		t.Fatalf("expected insufficient_stock code, got %s", rr.Body.String())
	}
}

func TestAdminHandlersListLedgerSuccess(t *testing.T) {
	now := time.Date(2026, 5, 21, 9, 0, 0, 0, time.UTC)
	orderRef := "ord_9"
	inventory := &stubInventoryService{
		historyFn: func(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.HistoryEntry], error) {
			if productID != "prd_1" {
				t.Fatalf("unexpected product id %s", productID)
			}
			if pager.PageToken != "tok9" {
				t.Fatalf("expected page token tok9, got %s", pager.PageToken)
			}
			return domain.CursorPage[services.HistoryEntry]{
				Items: []services.HistoryEntry{
					{
						Entry: services.LedgerEntry{
							ID:         "led_2",
							ProductRef: "prd_1",
							Movement:   domain.MovementExport,
							Quantity:   2,
							OrderRef:   &orderRef,
							StockAfter: 8,
							CreatedAt:  now,
						},
						Order: &services.HistoryOrderContext{
							OrderID:     "ord_9",
							OrderNumber: "SM-2026-000009",
							Status:      domain.OrderStatusShipped,
							UserRef:     "user-7",
							ShipTo: domain.ShippingAddress{
								FullName:   "Rosa Mason",
								Address:    "12 Quarry Lane",
								City:       "Aberdeen",
								PostalCode: "AB10 1AA",
								Country:    "GB",
								Phone:      "+44 1224 000000",
							},
						},
					},
				},
				NextPageToken: "tok10",
			}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodGet, "/admin/products/prd_1/ledger?page_token=tok9", nil))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, inventory, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ledgerListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Items))
	}
	entry := resp.Items[0]
	if entry.Movement != "export" || entry.OrderRef == nil || *entry.OrderRef != "ord_9" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry.Order == nil {
		t.Fatalf("expected order context on export entry: %s", rr.Body.String())
	}
	if entry.Order.OrderNumber != "SM-2026-000009" || entry.Order.Status != "shipped" {
		t.Fatalf("unexpected order context: %#v", entry.Order)
	}
	if entry.Order.ShipTo.City != "Aberdeen" || entry.Order.ShipTo.FullName != "Rosa Mason" {
		t.Fatalf("unexpected ship-to: %#v", entry.Order.ShipTo)
	}
	if resp.NextPageToken != "tok10" {
		t.Fatalf("expected next page token tok10, got %s", resp.NextPageToken)
	}
}

func TestAdminHandlersListLedgerRequiresRole(t *testing.T) {
	inventory := &stubInventoryService{}
	req := asUser(httptest.NewRequest(http.MethodGet, "/admin/products/prd_1/ledger", nil), "user-1")
	rr := httptest.NewRecorder()
	newAdminRouter(nil, inventory, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminHandlersListOrdersPassesUserFilter(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=user-7&status=pending", nil))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-7" {
		t.Fatalf("expected user filter user-7, got %s", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter: %#v", captured.Status)
	}
	if !captured.Requester.Staff {
		t.Fatalf("expected staff requester")
	}
}

func TestAdminHandlersUpdateOrderStatusSuccess(t *testing.T) {
	var captured services.OrderStatusCommand
	orders := &stubOrderService{
		statusFn: func(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: cmd.Target}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:status", strings.NewReader(`{"status":" Shipped "}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Target != domain.OrderStatusShipped {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestAdminHandlersUpdateOrderStatusInvalidTransition(t *testing.T) {
	orders := &stubOrderService{
		statusFn: func(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:status", strings.NewReader(`{"status":"delivered"}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateOrderStatusForbidden(t *testing.T) {
	orders := &stubOrderService{
		statusFn: func(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderForbidden
		},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:status", strings.NewReader(`{"status":"shipped"}`)), "user-1")
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminHandlersVerifyReviewSuccess(t *testing.T) {
	now := time.Date(2026, 5, 23, 11, 0, 0, 0, time.UTC)
	var captured services.SetReviewVerifiedCommand
	reviews := &stubReviewService{
		verifyFn: func(ctx context.Context, cmd services.SetReviewVerifiedCommand) (services.Review, error) {
			captured = cmd
			return services.Review{
				ID:         "prd_1__user-5",
				ProductRef: "prd_1",
				UserRef:    "user-5",
				Rating:     5,
				IsVerified: cmd.Verified,
				CreatedAt:  now.Add(-24 * time.Hour),
				UpdatedAt:  now,
			}, nil
		},
	}

	req := asStaff(httptest.NewRequest(http.MethodPost, "/admin/products/prd_1/reviews/user-5:verify", strings.NewReader(`{"verified":true}`)))
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, nil, reviews).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" || captured.UserID != "user-5" || !captured.Verified {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if !captured.Requester.Staff || captured.Requester.UserID != "staff-1" {
		t.Fatalf("requester not forwarded: %#v", captured.Requester)
	}

	var resp reviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Review.IsVerified || resp.Review.ID != "prd_1__user-5" {
		t.Fatalf("unexpected review payload: %#v", resp.Review)
	}
}

func TestAdminHandlersVerifyReviewForbidden(t *testing.T) {
	reviews := &stubReviewService{
		verifyFn: func(ctx context.Context, cmd services.SetReviewVerifiedCommand) (services.Review, error) {
			return services.Review{}, services.ErrReviewForbidden
		},
	}

	req := asUser(httptest.NewRequest(http.MethodPost, "/admin/products/prd_1/reviews/user-5:verify", strings.NewReader(`{"verified":true}`)), "user-1")
	rr := httptest.NewRecorder()
	newAdminRouter(nil, nil, nil, reviews).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}
