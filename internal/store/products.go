package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/pricing"
)

// Product is a persisted product with its cost inputs, derived pricing and extra fields.
type Product struct {
	ID       int64
	OwnerID  int64
	Name     string
	SKU      sql.NullString
	Quantity sql.NullInt64

	MarginPercent                decimal.NullDecimal
	BuyingPrice                  decimal.NullDecimal
	Transportation               decimal.NullDecimal
	Packaging                    decimal.NullDecimal
	Warehouse                    decimal.NullDecimal
	MarketplaceCommissionPercent decimal.NullDecimal

	Expenses         decimal.NullDecimal
	RecommendedPrice decimal.NullDecimal
	NetProfit        decimal.NullDecimal

	CreatedAt time.Time
	UpdatedAt time.Time

	OtherFields []pricing.ExtraField
}

// SetPricing stores a calculation result on the product.
func (p *Product) SetPricing(r pricing.Result) {
	p.Expenses = decimal.NewNullDecimal(r.Expenses)
	p.RecommendedPrice = decimal.NewNullDecimal(r.RecommendedPrice)
	p.NetProfit = decimal.NewNullDecimal(r.NetProfit)
}

// ProductFilter narrows ListProducts. Empty strings disable a filter.
type ProductFilter struct {
	OwnerID int64
	// Name matches case-insensitively anywhere in the product name.
	Name string
	// SKU must match exactly.
	SKU string
}

const productColumns = `
	id, owner_id, name, sku, quantity,
	margin_percent, buying_price, transportation, packaging, warehouse, marketplace_commission_percent,
	expenses, recommended_price, net_profit,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.SKU, &p.Quantity,
		&p.MarginPercent, &p.BuyingPrice, &p.Transportation, &p.Packaging, &p.Warehouse, &p.MarketplaceCommissionPercent,
		&p.Expenses, &p.RecommendedPrice, &p.NetProfit,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// CreateProduct inserts p and its extra fields, filling in the generated ids.
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	return s.WithTx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO products (
				owner_id, name, sku, quantity,
				margin_percent, buying_price, transportation, packaging, warehouse, marketplace_commission_percent,
				expenses, recommended_price, net_profit
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.OwnerID, p.Name, p.SKU, p.Quantity,
			p.MarginPercent, p.BuyingPrice, p.Transportation, p.Packaging, p.Warehouse, p.MarketplaceCommissionPercent,
			p.Expenses, p.RecommendedPrice, p.NetProfit,
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read product id: %w", err)
		}

		newFields := make([]pricing.NewExtraField, 0, len(p.OtherFields))
		for _, f := range p.OtherFields {
			newFields = append(newFields, pricing.NewExtraField{FieldName: f.FieldName, Value: f.Value})
		}
		created, err := tx.InsertExtraFields(ctx, id, newFields)
		if err != nil {
			return err
		}

		stored, err := tx.GetProduct(ctx, p.OwnerID, id)
		if err != nil {
			return err
		}
		stored.OtherFields = created
		*p = stored
		return nil
	})
}

// GetProduct loads a product of ownerID together with its extra fields.
func (s *Store) GetProduct(ctx context.Context, ownerID, id int64) (Product, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ? AND owner_id = ?`, id, ownerID)
	p, err := scanProduct(row)
	if err != nil {
		return Product{}, notFound(err, "product")
	}

	fields, err := s.ExtraFieldsOf(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.OtherFields = fields
	return p, nil
}

// ListProducts returns the owner's products, newest first, with their extra fields.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	where := []string{"owner_id = ?"}
	args := []any{f.OwnerID}
	if name := strings.TrimSpace(f.Name); name != "" {
		where = append(where, "LOWER(name) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(name))+"%")
	}
	if f.SKU != "" {
		where = append(where, "sku = ?")
		args = append(args, f.SKU)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY datetime(created_at) DESC, id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	index := make(map[int64]int)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close product rows: %w", err)
	}

	if len(products) == 0 {
		return products, nil
	}

	owned, err := s.ListExtraFields(ctx, f.OwnerID)
	if err != nil {
		return nil, err
	}
	for _, field := range owned {
		if i, ok := index[field.ProductID]; ok {
			products[i].OtherFields = append(products[i].OtherFields, field.ExtraField)
		}
	}

	return products, nil
}

// SaveProduct overwrites the stored columns of p. Extra fields are not touched.
func (s *Store) SaveProduct(ctx context.Context, p Product) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE products
		SET
			name = ?,
			sku = ?,
			quantity = ?,
			margin_percent = ?,
			buying_price = ?,
			transportation = ?,
			packaging = ?,
			warehouse = ?,
			marketplace_commission_percent = ?,
			expenses = ?,
			recommended_price = ?,
			net_profit = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?
	`,
		p.Name, p.SKU, p.Quantity,
		p.MarginPercent, p.BuyingPrice, p.Transportation, p.Packaging, p.Warehouse, p.MarketplaceCommissionPercent,
		p.Expenses, p.RecommendedPrice, p.NetProfit,
		p.ID, p.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return requireAffected(res, "product")
}

// DeleteProduct removes a product; its extra fields go with it.
func (s *Store) DeleteProduct(ctx context.Context, ownerID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM products WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return requireAffected(res, "product")
}

func requireAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected %s rows: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
