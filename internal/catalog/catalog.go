// Package catalog prices and persists an owner's products.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/ecominsight/internal/cache"
	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

var calculationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "calculations_total",
		Help: "Number of price calculations partitioned by what triggered them",
	},
	[]string{"source"},
)

// ProductInput carries the product attributes of a create or update request.
// Nil fields are left as they are on update.
type ProductInput struct {
	Name     *string
	SKU      *string
	Quantity *int64

	MarginPercent                *decimal.Decimal
	BuyingPrice                  *decimal.Decimal
	Transportation               *decimal.Decimal
	Packaging                    *decimal.Decimal
	Warehouse                    *decimal.Decimal
	MarketplaceCommissionPercent *decimal.Decimal

	OtherFields []pricing.ExtraFieldChange
}

// Service is the product catalog of all owners.
type Service struct {
	store      *store.Store
	classifier *pricing.Classifier
	cache      cache.Cache
	logger     *zap.Logger

	// generations counts invalidations per owner. A listing read under an older
	// generation is not cached.
	mu          sync.Mutex
	generations map[int64]uint64
}

// NewService wires a Service. A nil cache disables caching.
func NewService(st *store.Store, c cache.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		store:       st,
		classifier:  pricing.NewClassifier(logger),
		cache:       c,
		logger:      logger,
		generations: make(map[int64]uint64),
	}
}

// Calculate prices raw inputs without persisting anything.
func (s *Service) Calculate(inputs pricing.Inputs) (pricing.Result, error) {
	res, err := s.classifier.Calculate(inputs)
	if err != nil {
		return pricing.Result{}, err
	}
	calculationsTotal.WithLabelValues("anonymous").Inc()
	return res, nil
}

// Quote prices a product that is not stored.
func (s *Service) Quote(in ProductInput) (pricing.Result, error) {
	p := in.product()
	return s.Calculate(ProductInputs(p))
}

// Get returns one of the owner's products.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (store.Product, error) {
	return s.store.GetProduct(ctx, ownerID, id)
}

// List returns the owner's products matching the filter.
func (s *Service) List(ctx context.Context, filter store.ProductFilter) ([]store.Product, error) {
	return s.store.ListProducts(ctx, filter)
}

// ListEncoded returns encode(List(filter)), served from the cache when possible.
func (s *Service) ListEncoded(ctx context.Context, filter store.ProductFilter, encode func([]store.Product) ([]byte, error)) ([]byte, error) {
	key := cache.ListingKey(filter.OwnerID, filter.Name, filter.SKU)
	if body, ok := s.cache.Get(ctx, key); ok {
		return body, nil
	}

	gen := s.generation(filter.OwnerID)
	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	body, err := encode(products)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[filter.OwnerID] == gen {
		s.cache.Set(ctx, key, body)
	}
	return body, nil
}

func (s *Service) generation(ownerID int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[ownerID]
}

// invalidate drops the owner's cached listings after a committed write.
func (s *Service) invalidate(ctx context.Context, ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[ownerID]++
	s.cache.InvalidateOwner(ctx, ownerID)
}

// Create stores a new product with its extra fields and computed pricing.
func (s *Service) Create(ctx context.Context, ownerID int64, in ProductInput) (store.Product, error) {
	p := in.product()
	p.OwnerID = ownerID

	if err := s.price(&p); err != nil {
		return store.Product{}, err
	}
	if err := s.store.CreateProduct(ctx, &p); err != nil {
		return store.Product{}, err
	}

	s.invalidate(ctx, ownerID)
	return p, nil
}

// Update merges in onto the stored product, reconciles its extra fields and
// recomputes pricing. Everything is written in one transaction.
func (s *Service) Update(ctx context.Context, ownerID, id int64, in ProductInput) (store.Product, error) {
	var updated store.Product
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		p, err := tx.GetProduct(ctx, ownerID, id)
		if err != nil {
			return err
		}
		in.applyTo(&p)

		rec := pricing.ReconcileExtraFields(p.OtherFields, in.OtherFields)
		if len(rec.Unmatched) > 0 {
			s.logger.Info("ignoring extra fields with unknown ids",
				zap.Int64("product_id", id),
				zap.Int64s("ids", rec.Unmatched),
			)
		}

		if err := tx.UpdateExtraFields(ctx, id, rec.Updated); err != nil {
			return err
		}
		created, err := tx.InsertExtraFields(ctx, id, rec.Created)
		if err != nil {
			return err
		}
		p.OtherFields = append(rec.Fields(), created...)

		if err := s.price(&p); err != nil {
			return err
		}
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}

		updated, err = tx.GetProduct(ctx, ownerID, id)
		return err
	})
	if err != nil {
		return store.Product{}, err
	}

	s.invalidate(ctx, ownerID)
	return updated, nil
}

// Delete removes a product and its extra fields.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	if err := s.store.DeleteProduct(ctx, ownerID, id); err != nil {
		return err
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// ListExtraFields returns the extra fields of all the owner's products.
func (s *Service) ListExtraFields(ctx context.Context, ownerID int64) ([]store.OwnedExtraField, error) {
	return s.store.ListExtraFields(ctx, ownerID)
}

// GetExtraField returns one extra field on the owner's products.
func (s *Service) GetExtraField(ctx context.Context, ownerID, id int64) (store.OwnedExtraField, error) {
	return s.store.GetExtraField(ctx, ownerID, id)
}

// UpdateExtraField changes one extra field and reprices its product.
func (s *Service) UpdateExtraField(ctx context.Context, ownerID, id int64, change pricing.ExtraFieldChange) (store.OwnedExtraField, error) {
	var updated store.OwnedExtraField
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		field, err := tx.GetExtraField(ctx, ownerID, id)
		if err != nil {
			return err
		}
		change.ID = &field.ID

		if err := s.reprice(ctx, tx, ownerID, field.ProductID, func(p *store.Product) error {
			rec := pricing.ReconcileExtraFields(p.OtherFields, []pricing.ExtraFieldChange{change})
			if err := tx.UpdateExtraFields(ctx, p.ID, rec.Updated); err != nil {
				return err
			}
			p.OtherFields = rec.Fields()
			return nil
		}); err != nil {
			return err
		}

		updated, err = tx.GetExtraField(ctx, ownerID, id)
		return err
	})
	if err != nil {
		return store.OwnedExtraField{}, err
	}

	s.invalidate(ctx, ownerID)
	return updated, nil
}

// DeleteExtraField removes one extra field and reprices its product.
func (s *Service) DeleteExtraField(ctx context.Context, ownerID, id int64) error {
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		field, err := tx.GetExtraField(ctx, ownerID, id)
		if err != nil {
			return err
		}

		return s.reprice(ctx, tx, ownerID, field.ProductID, func(p *store.Product) error {
			if err := tx.DeleteExtraField(ctx, p.ID, id); err != nil {
				return err
			}
			kept := p.OtherFields[:0]
			for _, f := range p.OtherFields {
				if f.ID != id {
					kept = append(kept, f)
				}
			}
			p.OtherFields = kept
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, ownerID)
	return nil
}

// reprice loads a product inside tx, lets mutate change its extra fields and
// saves the product with pricing computed from the result.
func (s *Service) reprice(ctx context.Context, tx *store.Store, ownerID, productID int64, mutate func(p *store.Product) error) error {
	p, err := tx.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return err
	}
	if err := mutate(&p); err != nil {
		return err
	}
	if err := s.price(&p); err != nil {
		return err
	}
	return tx.SaveProduct(ctx, p)
}

func (s *Service) price(p *store.Product) error {
	// Quantity is stock on hand, not a per-unit cost; it never reaches the classifier.
	res, err := s.classifier.Calculate(ProductInputs(*p))
	if err != nil {
		return fmt.Errorf("price product: %w", err)
	}
	p.SetPricing(res)
	calculationsTotal.WithLabelValues("product").Inc()
	return nil
}

// product builds an unsaved product. Extra field ids are ignored.
func (in ProductInput) product() store.Product {
	var p store.Product
	in.applyTo(&p)

	for _, change := range in.OtherFields {
		f := pricing.ExtraField{}
		if change.FieldName != nil {
			f.FieldName = *change.FieldName
		}
		if change.Value != nil {
			f.Value = *change.Value
		}
		p.OtherFields = append(p.OtherFields, f)
	}
	return p
}

func (in ProductInput) applyTo(p *store.Product) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.SKU != nil {
		p.SKU = sql.NullString{String: *in.SKU, Valid: true}
	}
	if in.Quantity != nil {
		p.Quantity = sql.NullInt64{Int64: *in.Quantity, Valid: true}
	}
	setDecimal(&p.MarginPercent, in.MarginPercent)
	setDecimal(&p.BuyingPrice, in.BuyingPrice)
	setDecimal(&p.Transportation, in.Transportation)
	setDecimal(&p.Packaging, in.Packaging)
	setDecimal(&p.Warehouse, in.Warehouse)
	setDecimal(&p.MarketplaceCommissionPercent, in.MarketplaceCommissionPercent)
}

func setDecimal(dst *decimal.NullDecimal, v *decimal.Decimal) {
	if v != nil {
		*dst = decimal.NewNullDecimal(*v)
	}
}
