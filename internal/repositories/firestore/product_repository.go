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

const productsCollection = "products"

// ProductRepository persists catalog products. Stock movements run inside a
// transaction that re-reads the current counts, so concurrent adjustments
// serialise instead of overwriting each other.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	ledger   *pfirestore.BaseRepository[ledgerDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	ledger := pfirestore.NewBaseRepository[ledgerDocument](provider, ledgerCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products, ledger: ledger}, nil
}

// Upsert stores the product document under its ID.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.Product{}, errors.New("product upsert: id is required")
	}

	doc := newProductDocument(product)
	if _, err := r.products.Set(ctx, product.ID, doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(product.ID), nil
}

// FindByID fetches a product by its document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns catalog products, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productsCollection).Query
	if seller := strings.TrimSpace(filter.SellerRef); seller != "" {
		query = query.Where("sellerRef", "==", seller)
	}
	if filter.ActiveOnly {
		query = query.Where("isActive", "==", true)
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// AdjustStock applies one manual stock movement and appends its ledger entry
// in the same transaction.
func (r *ProductRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustResult{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorProductNotFound, "stock adjust: product id is required", nil)
	}
	if strings.TrimSpace(req.EntryID) == "" {
		return repositories.StockAdjustResult{}, errors.New("stock adjust: entry id is required")
	}
	if req.Quantity <= 0 {
		return repositories.StockAdjustResult{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("stock adjust: quantity must be > 0, got %d", req.Quantity), nil)
	}

	now := req.Now.UTC()
	var result repositories.StockAdjustResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		var variantSnapshot *variantSnapshotDocument
		var variantStockAfter *int

		delta := req.Quantity
		if req.Movement == domain.MovementExport {
			delta = -req.Quantity
		}

		if variantID := strings.TrimSpace(req.VariantID); variantID != "" {
			idx := doc.variantIndex(variantID)
			if idx < 0 {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found on product %s", variantID, productID), nil)
			}
			next := doc.Variants[idx].CountInStock + delta
			if next < 0 {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for variant %s: have %d, need %d", variantID, doc.Variants[idx].CountInStock, req.Quantity), nil)
			}
			doc.Variants[idx].CountInStock = next
			doc.CountInStock = doc.variantStockSum()
			variantStockAfter = &next
			variantSnapshot = doc.Variants[idx].snapshot()
		} else {
			if len(doc.Variants) > 0 {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("product %s requires a variant id for stock movements", productID), nil)
			}
			next := doc.CountInStock + delta
			if next < 0 {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for product %s: have %d, need %d", productID, doc.CountInStock, req.Quantity), nil)
			}
			doc.CountInStock = next
		}

		doc.UpdatedAt = now
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}

		entryRef, err := r.ledger.DocumentRef(ctx, req.EntryID)
		if err != nil {
			return err
		}
		entryDoc := ledgerDocument{
			ProductRef: productID,
			Variant:    variantSnapshot,
			Movement:   string(req.Movement),
			Quantity:   req.Quantity,
			Note:       strings.TrimSpace(req.Note),
			StockAfter: doc.CountInStock,
			CreatedAt:  now,
		}
		if err := tx.Create(entryRef, entryDoc); err != nil {
			return err
		}

		result = repositories.StockAdjustResult{
			Entry:             entryDoc.toDomain(req.EntryID),
			StockAfter:        doc.CountInStock,
			VariantStockAfter: variantStockAfter,
		}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, wrapStockError("products.adjustStock", err)
	}
	return result, nil
}

// UpdateRating overwrites the derived rating aggregate on the product.
func (r *ProductRepository) UpdateRating(ctx context.Context, productID string, summary domain.RatingSummary, updatedAt time.Time) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product rating: id is required")
	}

	_, err := r.products.Update(ctx, productID, []firestore.Update{
		{Path: "rating", Value: summary.Rating},
		{Path: "numReviews", Value: summary.NumReviews},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

// Helper structures ---------------------------------------------------------

type variantDocument struct {
	ID           string `firestore:"id"`
	Size         string `firestore:"size,omitempty"`
	Color        string `firestore:"color,omitempty"`
	Price        int64  `firestore:"price"`
	CountInStock int    `firestore:"countInStock"`
}

func (v variantDocument) snapshot() *variantSnapshotDocument {
	return &variantSnapshotDocument{
		ID:    v.ID,
		Size:  v.Size,
		Color: v.Color,
		Price: v.Price,
	}
}

type productDocument struct {
	SellerRef    string            `firestore:"sellerRef,omitempty"`
	Name         string            `firestore:"name"`
	Description  string            `firestore:"description,omitempty"`
	Price        int64             `firestore:"price"`
	Currency     string            `firestore:"currency"`
	CountInStock int               `firestore:"countInStock"`
	Variants     []variantDocument `firestore:"variants,omitempty"`
	Rating       float64           `firestore:"rating"`
	NumReviews   int               `firestore:"numReviews"`
	IsActive     bool              `firestore:"isActive"`
	CreatedAt    time.Time         `firestore:"createdAt"`
	UpdatedAt    time.Time         `firestore:"updatedAt"`
}

func (d productDocument) variantIndex(variantID string) int {
	for i, v := range d.Variants {
		if v.ID == variantID {
			return i
		}
	}
	return -1
}

func (d productDocument) variantStockSum() int {
	sum := 0
	for _, v := range d.Variants {
		sum += v.CountInStock
	}
	return sum
}

func newProductDocument(product domain.Product) productDocument {
	variants := make([]variantDocument, len(product.Variants))
	for i, v := range product.Variants {
		variants[i] = variantDocument{
			ID:           strings.TrimSpace(v.ID),
			Size:         strings.TrimSpace(v.Size),
			Color:        strings.TrimSpace(v.Color),
			Price:        v.Price,
			CountInStock: v.CountInStock,
		}
	}
	return productDocument{
		SellerRef:    strings.TrimSpace(product.SellerRef),
		Name:         strings.TrimSpace(product.Name),
		Description:  strings.TrimSpace(product.Description),
		Price:        product.Price,
		Currency:     strings.TrimSpace(product.Currency),
		CountInStock: product.CountInStock,
		Variants:     variants,
		Rating:       product.Rating,
		NumReviews:   product.NumReviews,
		IsActive:     product.IsActive,
		CreatedAt:    product.CreatedAt.UTC(),
		UpdatedAt:    product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	variants := make([]domain.Variant, len(d.Variants))
	for i, v := range d.Variants {
		variants[i] = domain.Variant{
			ID:           v.ID,
			Size:         v.Size,
			Color:        v.Color,
			Price:        v.Price,
			CountInStock: v.CountInStock,
		}
	}
	return domain.Product{
		ID:           id,
		SellerRef:    d.SellerRef,
		Name:         d.Name,
		Description:  d.Description,
		Price:        d.Price,
		Currency:     d.Currency,
		CountInStock: d.CountInStock,
		Variants:     variants,
		Rating:       d.Rating,
		NumReviews:   d.NumReviews,
		IsActive:     d.IsActive,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type productPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeProductPageToken(token productPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeProductPageToken(encoded string) (productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return productPageToken{}, fmt.Errorf("decode product page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return productPageToken{}, fmt.Errorf("decode product page token json: %w", err)
	}
	return token, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
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
