package pricing

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// ExtraField is a persisted user-defined field attached to a product.
type ExtraField struct {
	ID        int64
	FieldName string
	Value     decimal.Decimal
}

// ExtraFieldChange is a submitted extra field. A nil ID asks for a new field; nil
// FieldName or Value keep the stored attribute.
type ExtraFieldChange struct {
	ID        *int64
	FieldName *string
	Value     *decimal.Decimal
}

// NewExtraField is an extra field waiting to be created.
type NewExtraField struct {
	FieldName string
	Value     decimal.Decimal
}

// Reconciliation is the outcome of merging submitted extra fields into stored ones.
type Reconciliation struct {
	Updated   []ExtraField
	Untouched []ExtraField
	Created   []NewExtraField
	// Unmatched holds submitted IDs that do not belong to any stored field.
	Unmatched []int64
}

// Fields returns the stored field set, ordered by ID, as it will look once the
// reconciliation is applied. Fields still to be created are not included.
func (r Reconciliation) Fields() []ExtraField {
	out := make([]ExtraField, 0, len(r.Updated)+len(r.Untouched))
	out = append(out, r.Updated...)
	out = append(out, r.Untouched...)
	slices.SortFunc(out, func(a, b ExtraField) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Inputs returns every resulting field, created ones included, as calculation inputs.
func (r Reconciliation) Inputs() []ExtraInput {
	out := make([]ExtraInput, 0, len(r.Updated)+len(r.Untouched)+len(r.Created))
	for _, f := range r.Fields() {
		out = append(out, ExtraInput{FieldName: f.FieldName, Value: f.Value})
	}
	for _, f := range r.Created {
		out = append(out, ExtraInput{FieldName: f.FieldName, Value: f.Value})
	}
	return out
}

// ReconcileExtraFields matches incoming changes to existing fields by ID. Existing fields
// are never removed; incoming entries without an ID always become new fields.
func ReconcileExtraFields(existing []ExtraField, incoming []ExtraFieldChange) Reconciliation {
	byID := make(map[int64]ExtraFieldChange, len(incoming))
	var rec Reconciliation

	for _, change := range incoming {
		if change.ID == nil {
			created := NewExtraField{}
			if change.FieldName != nil {
				created.FieldName = *change.FieldName
			}
			if change.Value != nil {
				created.Value = *change.Value
			}
			rec.Created = append(rec.Created, created)
			continue
		}
		byID[*change.ID] = change
	}

	seen := make(map[int64]bool, len(byID))
	for _, field := range existing {
		change, ok := byID[field.ID]
		if !ok {
			rec.Untouched = append(rec.Untouched, field)
			continue
		}
		seen[field.ID] = true

		updated := field
		if change.FieldName != nil {
			updated.FieldName = *change.FieldName
		}
		if change.Value != nil {
			updated.Value = *change.Value
		}
		rec.Updated = append(rec.Updated, updated)
	}

	for _, change := range incoming {
		if change.ID != nil && !seen[*change.ID] {
			rec.Unmatched = append(rec.Unmatched, *change.ID)
			seen[*change.ID] = true
		}
	}

	return rec
}
