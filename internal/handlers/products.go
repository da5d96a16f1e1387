package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/stonemart/api/internal/domain"
	"github.com/stonemart/api/internal/platform/auth"
	"github.com/stonemart/api/internal/platform/httpx"
	"github.com/stonemart/api/internal/services"
)

const (
	maxReviewBodySize = 32 * 1024

	defaultReviewRateLimit  = 10
	defaultReviewRateWindow = time.Minute
)

// ProductHandlers serves the public catalog plus the nested review endpoints.
// Catalog reads are anonymous; review writes require authentication and are
// throttled per user.
type ProductHandlers struct {
	authn       *auth.Authenticator
	catalog     services.CatalogService
	reviews     services.ReviewService
	reviewLimit rateLimiter
}

// ProductHandlersOption customizes a ProductHandlers instance.
type ProductHandlersOption func(*ProductHandlers)

// WithReviewRateLimiter overrides the default review submission throttle.
func WithReviewRateLimiter(limiter rateLimiter) ProductHandlersOption {
	return func(h *ProductHandlers) {
		h.reviewLimit = limiter
	}
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, reviews services.ReviewService, opts ...ProductHandlersOption) *ProductHandlers {
	h := &ProductHandlers{
		authn:       authn,
		catalog:     catalog,
		reviews:     reviews,
		reviewLimit: newSimpleRateLimiter(defaultReviewRateLimit, defaultReviewRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
	r.Get("/{productID}/reviews", h.listReviews)

	r.Group(func(gr chi.Router) {
		if h.authn != nil {
			gr.Use(h.authn.RequireFirebaseAuth())
		}
		gr.Post("/{productID}/reviews", h.createReview)
		gr.Patch("/{productID}/reviews/me", h.updateReview)
		gr.Delete("/{productID}/reviews/me", h.deleteOwnReview)
		gr.Delete("/{productID}/reviews/{userID}", h.deleteReview)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		SellerRef:  strings.TrimSpace(query.Get("seller")),
		ActiveOnly: query.Get("include_inactive") != "true",
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
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

	page, err := h.reviews.ListByProduct(ctx, productID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, reviewListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type createReviewRequest struct {
	Rating  int      `json:"rating"`
	Comment string   `json:"comment,omitempty"`
	Images  []string `json:"images,omitempty"`
}

type updateReviewRequest struct {
	Rating  *int     `json:"rating,omitempty"`
	Comment *string  `json:"comment,omitempty"`
	Images  []string `json:"images,omitempty"`
}

func (h *ProductHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.reviews != nil, "review")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if h.reviewLimit != nil && !h.reviewLimit.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many review submissions, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Create(ctx, services.CreateReviewCommand{
		ProductID: productID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		Images:    req.Images,
		Requester: requesterFromContext(identity),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, reviewResponse{Review: buildReviewPayload(review)})
}

func (h *ProductHandlers) updateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.reviews != nil, "review")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Update(ctx, services.UpdateReviewCommand{
		ProductID: productID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		Images:    req.Images,
		Requester: requesterFromContext(identity),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reviewResponse{Review: buildReviewPayload(review)})
}

func (h *ProductHandlers) deleteOwnReview(w http.ResponseWriter, r *http.Request) {
	h.removeReview(w, r, "")
}

func (h *ProductHandlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	h.removeReview(w, r, strings.TrimSpace(chi.URLParam(r, "userID")))
}

func (h *ProductHandlers) removeReview(w http.ResponseWriter, r *http.Request, targetUserID string) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.reviews != nil, "review")
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.reviews.Delete(ctx, services.DeleteReviewCommand{
		ProductID: productID,
		UserID:    targetUserID,
		Requester: requesterFromContext(identity),
	}); err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Payload types -------------------------------------------------------------

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID           string                  `json:"id"`
	SellerRef    string                  `json:"seller_ref,omitempty"`
	Name         string                  `json:"name"`
	Description  string                  `json:"description,omitempty"`
	Price        int64                   `json:"price"`
	Currency     string                  `json:"currency"`
	CountInStock int                     `json:"count_in_stock"`
	Variants     []productVariantPayload `json:"variants,omitempty"`
	Rating       float64                 `json:"rating"`
	NumReviews   int                     `json:"num_reviews"`
	IsActive     bool                    `json:"is_active"`
	CreatedAt    string                  `json:"created_at"`
	UpdatedAt    string                  `json:"updated_at,omitempty"`
}

type productVariantPayload struct {
	ID           string `json:"id"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Price        int64  `json:"price"`
	CountInStock int    `json:"count_in_stock"`
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type reviewResponse struct {
	Review reviewPayload `json:"review"`
}

type reviewPayload struct {
	ID         string   `json:"id"`
	ProductRef string   `json:"product_ref"`
	UserRef    string   `json:"user_ref"`
	UserName   string   `json:"user_name,omitempty"`
	Rating     int      `json:"rating"`
	Comment    string   `json:"comment,omitempty"`
	Images     []string `json:"images,omitempty"`
	IsVerified bool     `json:"is_verified"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	variants := make([]productVariantPayload, 0, len(product.Variants))
	for _, variant := range product.Variants {
		variants = append(variants, productVariantPayload{
			ID:           variant.ID,
			Size:         variant.Size,
			Color:        variant.Color,
			Price:        variant.Price,
			CountInStock: variant.CountInStock,
		})
	}
	if len(variants) == 0 {
		variants = nil
	}
	return productPayload{
		ID:           product.ID,
		SellerRef:    product.SellerRef,
		Name:         product.Name,
		Description:  product.Description,
		Price:        product.Price,
		Currency:     product.Currency,
		CountInStock: product.CountInStock,
		Variants:     variants,
		Rating:       product.Rating,
		NumReviews:   product.NumReviews,
		IsActive:     product.IsActive,
		CreatedAt:    formatTime(product.CreatedAt),
		UpdatedAt:    formatTime(product.UpdatedAt),
	}
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:         review.ID,
		ProductRef: review.ProductRef,
		UserRef:    review.UserRef,
		UserName:   review.UserName,
		Rating:     review.Rating,
		Comment:    review.Comment,
		Images:     review.Images,
		IsVerified: review.IsVerified,
		CreatedAt:  formatTime(review.CreatedAt),
		UpdatedAt:  formatTime(review.UpdatedAt),
	}
}

// Error mapping -------------------------------------------------------------

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewConflict):
		httpx.WriteError(ctx, w, httpx.NewError("review_exists", "a review for this product already exists", http.StatusConflict))
	case errors.Is(err, services.ErrReviewNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("not_eligible", "reviews require a delivered purchase of the product", http.StatusForbidden))
	case errors.Is(err, services.ErrReviewForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "failed to process review request", http.StatusInternalServerError))
	}
}
