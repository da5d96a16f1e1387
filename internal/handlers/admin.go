package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/platform/auth"
	"github.com/stonemart/api/internal/platform/httpx"
	"github.com/stonemart/api/internal/services"
)

const (
	maxAdminProductBodySize = 64 * 1024
	maxStockMovementBody    = 8 * 1024
)

// AdminHandlers groups the staff-only surface: catalog writes, manual stock
// movements, the ledger, order fulfillment transitions, and review
// verification. Role enforcement happens twice, once by the admin middleware
// group and again inside each service.
type AdminHandlers struct {
	authn     *auth.Authenticator
	catalog   services.CatalogService
	inventory services.InventoryService
	orders    services.OrderService
	reviews   services.ReviewService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, catalog services.CatalogService, inventory services.InventoryService, orders services.OrderService, reviews services.ReviewService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		catalog:   catalog,
		inventory: inventory,
		orders:    orders,
		reviews:   reviews,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/products", h.createProduct)
	r.Patch("/products/{productID}", h.updateProduct)
	r.Post("/products/{productID}/stock:import", h.importStock)
	r.Post("/products/{productID}/stock:export", h.exportStock)
	r.Get("/products/{productID}/ledger", h.listLedger)
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:status", h.updateOrderStatus)
	r.Post("/products/{productID}/reviews/{userID}:verify", h.verifyReview)
}

type adminVariantInput struct {
	ID           string `json:"id"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Price        int64  `json:"price"`
	CountInStock int    `json:"count_in_stock"`
}

type createProductRequest struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Price        int64               `json:"price"`
	Currency     string              `json:"currency,omitempty"`
	Variants     []adminVariantInput `json:"variants,omitempty"`
	InitialStock int                 `json:"initial_stock"`
	IsActive     *bool               `json:"is_active,omitempty"`
	SellerRef    string              `json:"seller_ref,omitempty"`
}

type updateProductRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *int64  `json:"price,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type stockMovementRequest struct {
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

type verifyReviewRequest struct {
	Verified bool `json:"verified"`
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.catalog != nil, "catalog")
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	variants := make([]domain.Variant, 0, len(req.Variants))
	for _, v := range req.Variants {
		variants = append(variants, domain.Variant{
			ID:           strings.TrimSpace(v.ID),
			Size:         strings.TrimSpace(v.Size),
			Color:        strings.TrimSpace(v.Color),
			Price:        v.Price,
			CountInStock: v.CountInStock,
		})
	}

	// New products default to active unless the caller says otherwise.
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		Price:        req.Price,
		Currency:     strings.TrimSpace(req.Currency),
		Variants:     variants,
		InitialStock: req.InitialStock,
		IsActive:     isActive,
		SellerRef:    strings.TrimSpace(req.SellerRef),
		Requester:    requesterFromContext(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.catalog != nil, "catalog")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminProductBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsActive:    req.IsActive,
		Requester:   requesterFromContext(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) importStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, domain.MovementImport)
}

func (h *AdminHandlers) exportStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, domain.MovementExport)
}

func (h *AdminHandlers) moveStock(w http.ResponseWriter, r *http.Request, movement domain.MovementType) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.inventory != nil, "inventory")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxStockMovementBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req stockMovementRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.StockMovementCommand{
		ProductID: productID,
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
		Note:      strings.TrimSpace(req.Note),
		Requester: requesterFromContext(identity),
	}

	var result services.StockMovementResult
	if movement == domain.MovementImport {
		result, err = h.inventory.Import(ctx, cmd)
	} else {
		result, err = h.inventory.Export(ctx, cmd)
	}
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockMovementResponse{
		Entry:             buildLedgerEntryPayload(services.HistoryEntry{Entry: result.Entry}),
		StockAfter:        result.StockAfter,
		VariantStockAfter: result.VariantStockAfter,
	})
}

func (h *AdminHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.inventory != nil, "inventory")
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.History(ctx, productID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]ledgerEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildLedgerEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, ledgerListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) verifyReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.reviews != nil, "review")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if productID == "" || userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id and user id are required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxStockMovementBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req verifyReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.SetVerified(ctx, services.SetReviewVerifiedCommand{
		ProductID: productID,
		UserID:    userID,
		Verified:  req.Verified,
		Requester: requesterFromContext(identity),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewResponse{Review: buildReviewPayload(review)})
}

// listOrders serves the staff-wide order listing; the order service lets
// staff requesters filter by any user.
func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(raw))
	}

	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.OrderListFilter{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
		Requester: requesterFromContext(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil, "order")
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxStockMovementBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID:   orderID,
		Target:    domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Requester: requesterFromContext(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// Payload types -------------------------------------------------------------

type stockMovementResponse struct {
	Entry             ledgerEntryPayload `json:"entry"`
	StockAfter        int                `json:"stock_after"`
	VariantStockAfter *int               `json:"variant_stock_after,omitempty"`
}

type ledgerListResponse struct {
	Items         []ledgerEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type ledgerEntryPayload struct {
	ID         string              `json:"id"`
	ProductRef string              `json:"product_ref"`
	Variant    *variantPayload     `json:"variant,omitempty"`
	Movement   string              `json:"movement"`
	Quantity   int                 `json:"quantity"`
	Note       string              `json:"note,omitempty"`
	OrderRef   *string             `json:"order_ref,omitempty"`
	Order      *ledgerOrderPayload `json:"order,omitempty"`
	StockAfter int                 `json:"stock_after"`
	CreatedAt  string              `json:"created_at"`
}

// ledgerOrderPayload carries the joined order header for order-linked
// movements.
type ledgerOrderPayload struct {
	ID          string         `json:"id"`
	OrderNumber string         `json:"order_number"`
	Status      string         `json:"status"`
	UserRef     string         `json:"user_ref"`
	ShipTo      addressPayload `json:"ship_to"`
}

func buildLedgerEntryPayload(history services.HistoryEntry) ledgerEntryPayload {
	entry := history.Entry
	payload := ledgerEntryPayload{
		ID:         entry.ID,
		ProductRef: entry.ProductRef,
		Movement:   string(entry.Movement),
		Quantity:   entry.Quantity,
		Note:       entry.Note,
		OrderRef:   entry.OrderRef,
		StockAfter: entry.StockAfter,
		CreatedAt:  formatTime(entry.CreatedAt),
	}
	if entry.Variant != nil {
		payload.Variant = &variantPayload{
			ID:    entry.Variant.ID,
			Size:  entry.Variant.Size,
			Color: entry.Variant.Color,
			Price: entry.Variant.Price,
		}
	}
	if history.Order != nil {
		payload.Order = &ledgerOrderPayload{
			ID:          history.Order.OrderID,
			OrderNumber: history.Order.OrderNumber,
			Status:      string(history.Order.Status),
			UserRef:     history.Order.UserRef,
			ShipTo: addressPayload{
				FullName:   history.Order.ShipTo.FullName,
				Address:    history.Order.ShipTo.Address,
				City:       history.Order.ShipTo.City,
				PostalCode: history.Order.ShipTo.PostalCode,
				Country:    history.Order.ShipTo.Country,
				Phone:      history.Order.ShipTo.Phone,
			},
		}
	}
	return payload
}

// Error mapping -------------------------------------------------------------

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
