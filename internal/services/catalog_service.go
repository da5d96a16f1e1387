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
	catalogEventProductCreated = "product.created"
	catalogEventProductUpdated = "product.updated"

	productIDPrefix = "prd_"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogForbidden indicates the requester lacks the staff role.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Ledger      repositories.LedgerRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	ledger   repositories.LedgerRepository
	clock    func() time.Time
	newID    func() string
	events   EventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("catalog service: ledger repository is required")
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

	return &catalogService{
		products: deps.Products,
		ledger:   deps.Ledger,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	if !cmd.Requester.Staff {
		return Product{}, fmt.Errorf("%w: catalog writes require staff", ErrCatalogForbidden)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must be >= 0", ErrCatalogInvalidInput)
	}
	if cmd.InitialStock < 0 {
		return Product{}, fmt.Errorf("%w: initial stock must be >= 0", ErrCatalogInvalidInput)
	}
	if err := validateVariants(cmd.Variants); err != nil {
		return Product{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = "USD"
	}

	now := s.now()
	product := Product{
		ID:          productIDPrefix + s.newID(),
		Name:        name,
		Description: strings.TrimSpace(cmd.Description),
		Price:       cmd.Price,
		Currency:    currency,
		Variants:    cmd.Variants,
		IsActive:    cmd.IsActive,
		SellerRef:   strings.TrimSpace(cmd.SellerRef),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// For variant products the initial count is the sum of variant counts;
	// InitialStock only applies to products without variants.
	if len(product.Variants) > 0 {
		var sum int
		for _, variant := range product.Variants {
			sum += variant.CountInStock
		}
		product.CountInStock = sum
	} else {
		product.CountInStock = cmd.InitialStock
	}

	stored, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if stored.CountInStock > 0 {
		entry := LedgerEntry{
			ID:         entryIDPrefix + s.newID(),
			ProductRef: stored.ID,
			Movement:   domain.MovementImport,
			Quantity:   stored.CountInStock,
			Note:       "initial stock",
			StockAfter: stored.CountInStock,
			CreatedAt:  now,
		}
		if _, err := s.ledger.Append(ctx, entry); err != nil {
			return Product{}, s.mapRepositoryError(err)
		}
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventProductCreated,
		ProductID:  stored.ID,
		UserID:     strings.TrimSpace(cmd.Requester.UserID),
		OccurredAt: now,
		Payload: map[string]any{
			"name":  stored.Name,
			"stock": stored.CountInStock,
		},
	})

	return stored, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	if !cmd.Requester.Staff {
		return Product{}, fmt.Errorf("%w: catalog writes require staff", ErrCatalogForbidden)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: product name cannot be empty", ErrCatalogInvalidInput)
		}
		product.Name = name
	}
	if cmd.Description != nil {
		product.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.Price != nil {
		if *cmd.Price < 0 {
			return Product{}, fmt.Errorf("%w: price must be >= 0", ErrCatalogInvalidInput)
		}
		product.Price = *cmd.Price
	}
	if cmd.IsActive != nil {
		product.IsActive = *cmd.IsActive
	}

	now := s.now()
	product.UpdatedAt = now

	stored, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, EventMessage{
		Type:       catalogEventProductUpdated,
		ProductID:  stored.ID,
		UserID:     strings.TrimSpace(cmd.Requester.UserID),
		OccurredAt: now,
		Payload:    map[string]any{"name": stored.Name},
	})

	return stored, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		SellerRef:  strings.TrimSpace(filter.SellerRef),
		ActiveOnly: filter.ActiveOnly,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func validateVariants(variants []Variant) error {
	seen := make(map[string]struct{}, len(variants))
	for _, variant := range variants {
		id := strings.TrimSpace(variant.ID)
		if id == "" {
			return fmt.Errorf("%w: variant id is required", ErrCatalogInvalidInput)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate variant id %q", ErrCatalogInvalidInput, id)
		}
		seen[id] = struct{}{}
		if variant.Price < 0 {
			return fmt.Errorf("%w: variant %s price must be >= 0", ErrCatalogInvalidInput, id)
		}
		if variant.CountInStock < 0 {
			return fmt.Errorf("%w: variant %s stock must be >= 0", ErrCatalogInvalidInput, id)
		}
	}
	return nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *catalogService) now() time.Time {
	return s.clock()
}

func (s *catalogService) publishEvent(ctx context.Context, event EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishCatalogEvent(ctx, event); err != nil {
		s.logger(ctx, "catalog.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}
