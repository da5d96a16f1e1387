package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/stonemart/api/internal/platform/config"
	"github.com/stonemart/api/internal/repositories"
	"github.com/stonemart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Inventory services.InventoryService
	Orders    services.OrderService
	Reviews   services.ReviewService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises optional collaborators before services are built.
type ContainerOption func(*containerDeps)

type containerDeps struct {
	events services.EventPublisher
	logger func(ctx context.Context, event string, fields map[string]any)
}

// WithEventPublisher injects the Pub/Sub publisher shared by all services.
func WithEventPublisher(events services.EventPublisher) ContainerOption {
	return func(d *containerDeps) {
		d.events = events
	}
}

// WithServiceLogger injects the structured event logger shared by all services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var deps containerDeps
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps containerDeps) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Ledger:   reg.Ledger(),
		Events:   deps.events,
		Logger:   deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Ledger:   reg.Ledger(),
		Orders:   reg.Orders(),
		Events:   deps.events,
		Logger:   deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Counters: reg.Counters(),
		Pricing: services.OrderPricing{
			TaxRateBasisPoints:    cfg.Orders.TaxRateBasisPoints,
			FreeShippingThreshold: cfg.Orders.FreeShippingThreshold,
			ShippingFlatFee:       cfg.Orders.ShippingFlatFee,
		},
		Events: deps.events,
		Logger: deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:  reg.Reviews(),
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Policy: services.ReviewPolicy{
			MaxImages:       cfg.Reviews.MaxImages,
			MaxCommentRunes: cfg.Reviews.MaxCommentRunes,
		},
		Events: deps.events,
		Logger: deps.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}
	svc.Reviews = reviewSvc

	return svc, nil
}
