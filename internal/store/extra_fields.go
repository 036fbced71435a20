package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/pricing"
)

// OwnedExtraField is an extra field together with the product it belongs to.
type OwnedExtraField struct {
	pricing.ExtraField
	ProductID int64
}

func scanExtraField(row rowScanner) (OwnedExtraField, error) {
	var (
		f     OwnedExtraField
		name  sql.NullString
		value decimal.NullDecimal
	)
	if err := row.Scan(&f.ID, &f.ProductID, &name, &value); err != nil {
		return OwnedExtraField{}, err
	}
	f.FieldName = name.String
	f.Value = value.Decimal
	return f, nil
}

// ExtraFieldsOf returns the extra fields of a product ordered by id.
func (s *Store) ExtraFieldsOf(ctx context.Context, productID int64) ([]pricing.ExtraField, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, product_id, field_name, value
		FROM product_extra_fields
		WHERE product_id = ?
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("query extra fields: %w", err)
	}
	defer rows.Close()

	fields := make([]pricing.ExtraField, 0)
	for rows.Next() {
		f, err := scanExtraField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan extra field: %w", err)
		}
		fields = append(fields, f.ExtraField)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extra fields: %w", err)
	}
	return fields, nil
}

// ListExtraFields returns every extra field on the owner's products.
func (s *Store) ListExtraFields(ctx context.Context, ownerID int64) ([]OwnedExtraField, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT f.id, f.product_id, f.field_name, f.value
		FROM product_extra_fields f
		JOIN products p ON p.id = f.product_id
		WHERE p.owner_id = ?
		ORDER BY f.id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query extra fields: %w", err)
	}
	defer rows.Close()

	fields := make([]OwnedExtraField, 0)
	for rows.Next() {
		f, err := scanExtraField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan extra field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extra fields: %w", err)
	}
	return fields, nil
}

// GetExtraField loads one extra field if it sits on a product of ownerID.
func (s *Store) GetExtraField(ctx context.Context, ownerID, id int64) (OwnedExtraField, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT f.id, f.product_id, f.field_name, f.value
		FROM product_extra_fields f
		JOIN products p ON p.id = f.product_id
		WHERE f.id = ? AND p.owner_id = ?
	`, id, ownerID)
	f, err := scanExtraField(row)
	if err != nil {
		return OwnedExtraField{}, notFound(err, "extra field")
	}
	return f, nil
}

// UpdateExtraFields writes name and value of each field of productID.
func (s *Store) UpdateExtraFields(ctx context.Context, productID int64, fields []pricing.ExtraField) error {
	for _, f := range fields {
		res, err := s.q.ExecContext(ctx, `
			UPDATE product_extra_fields
			SET field_name = ?, value = ?
			WHERE id = ? AND product_id = ?
		`, f.FieldName, f.Value, f.ID, productID)
		if err != nil {
			return fmt.Errorf("update extra field %d: %w", f.ID, err)
		}
		if err := requireAffected(res, "extra field"); err != nil {
			return err
		}
	}
	return nil
}

// InsertExtraFields creates fields on productID and returns them with their ids.
func (s *Store) InsertExtraFields(ctx context.Context, productID int64, fields []pricing.NewExtraField) ([]pricing.ExtraField, error) {
	created := make([]pricing.ExtraField, 0, len(fields))
	for _, f := range fields {
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO product_extra_fields (product_id, field_name, value)
			VALUES (?, ?, ?)
		`, productID, f.FieldName, f.Value)
		if err != nil {
			return nil, fmt.Errorf("insert extra field: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read extra field id: %w", err)
		}
		created = append(created, pricing.ExtraField{ID: id, FieldName: f.FieldName, Value: f.Value})
	}
	return created, nil
}

// DeleteExtraField removes a single extra field.
func (s *Store) DeleteExtraField(ctx context.Context, productID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM product_extra_fields WHERE id = ? AND product_id = ?`, id, productID)
	if err != nil {
		return fmt.Errorf("delete extra field: %w", err)
	}
	return requireAffected(res, "extra field")
}
