package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// FieldMarginPercent is consumed by the Calculator and never classified.
	FieldMarginPercent = "margin_percent"
	// FieldOtherFields carries the user-defined extra fields of a product.
	FieldOtherFields = "other_fields"

	percentToken = "percent"
)

// ErrShape marks malformed input structure, as opposed to a single unparseable value.
var ErrShape = errors.New("invalid input shape")

// ShapeError describes where an input violated the expected structure.
type ShapeError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// Field is a named raw input value.
type Field struct {
	Name  string
	Value any
}

// Inputs is an ordered set of named inputs. Order drives the order of the classified values.
type Inputs []Field

// Lookup returns the value of the first field called name.
func (in Inputs) Lookup(name string) (any, bool) {
	for _, f := range in {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// MarginPercent returns the margin input, or zero when it is absent or not numeric.
func (in Inputs) MarginPercent() decimal.Decimal {
	raw, ok := in.Lookup(FieldMarginPercent)
	if !ok {
		return decimal.Zero
	}
	margin, err := toDecimal(raw)
	if err != nil {
		return decimal.Zero
	}
	return margin
}

// ExtraInput is an extra field as submitted for a calculation.
type ExtraInput struct {
	FieldName string
	Value     decimal.Decimal
}

// ClassifiedInputs holds the rounded additive and percentage values of one calculation.
type ClassifiedInputs struct {
	SumValues     []decimal.Decimal
	PercentValues []decimal.Decimal
	// Skipped lists the fields dropped because their value could not be read as a number.
	Skipped []string
}

// Classifier splits raw inputs into additive costs and percentage surcharges.
type Classifier struct {
	logger *zap.Logger
}

// NewClassifier returns a Classifier reporting skipped fields to logger.
func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// Classify walks the top-level fields in order, then the extra fields. A malformed
// other_fields value fails with a *ShapeError; an unparseable top-level value is skipped.
func (c *Classifier) Classify(inputs Inputs) (ClassifiedInputs, error) {
	var extras []ExtraInput
	var out ClassifiedInputs

	for _, f := range inputs {
		switch f.Name {
		case FieldMarginPercent:
			continue
		case FieldOtherFields:
			parsed, err := extraInputs(f.Value)
			if err != nil {
				return ClassifiedInputs{}, err
			}
			extras = append(extras, parsed...)
			continue
		}

		if f.Value == nil {
			continue
		}
		value, err := toDecimal(f.Value)
		if err != nil {
			c.logger.Info("skipping non-numeric input",
				zap.String("field", f.Name),
				zap.Any("value", f.Value),
				zap.Error(err),
			)
			out.Skipped = append(out.Skipped, f.Name)
			continue
		}
		out.add(f.Name, value)
	}

	for _, e := range extras {
		out.add(e.FieldName, e.Value)
	}

	return out, nil
}

// Calculate classifies inputs and prices them with the margin found among them.
func (c *Classifier) Calculate(inputs Inputs) (Result, error) {
	classified, err := c.Classify(inputs)
	if err != nil {
		return Result{}, err
	}
	return NewCalculator(classified.SumValues, classified.PercentValues, inputs.MarginPercent()).Result(), nil
}

func (ci *ClassifiedInputs) add(name string, value decimal.Decimal) {
	rounded := Round(value)
	if IsPercent(name) {
		ci.PercentValues = append(ci.PercentValues, rounded)
		return
	}
	ci.SumValues = append(ci.SumValues, rounded)
}

// IsPercent reports whether a field name denotes a percentage surcharge.
func IsPercent(name string) bool {
	return strings.Contains(name, percentToken)
}

func extraInputs(v any) ([]ExtraInput, error) {
	switch entries := v.(type) {
	case nil:
		return nil, nil
	case []ExtraInput:
		return entries, nil
	case []ExtraField:
		out := make([]ExtraInput, 0, len(entries))
		for _, e := range entries {
			out = append(out, ExtraInput{FieldName: e.FieldName, Value: e.Value})
		}
		return out, nil
	case []any:
		out := make([]ExtraInput, 0, len(entries))
		for i, raw := range entries {
			record, ok := raw.(map[string]any)
			if !ok {
				return nil, &ShapeError{Field: FieldOtherFields, Index: i, Reason: "expected an object"}
			}
			name, ok := record["field_name"].(string)
			if !ok {
				return nil, &ShapeError{Field: FieldOtherFields, Index: i, Reason: "field_name must be a string"}
			}
			value, ok := numericValue(record["value"])
			if !ok {
				return nil, &ShapeError{Field: FieldOtherFields, Index: i, Reason: "value must be a number"}
			}
			out = append(out, ExtraInput{FieldName: name, Value: value})
		}
		return out, nil
	default:
		return nil, &ShapeError{Field: FieldOtherFields, Index: -1, Reason: "expected a list"}
	}
}

// numericValue accepts values that already are numbers. Strings are refused even when
// they would parse, unlike top-level fields.
func numericValue(v any) (decimal.Decimal, bool) {
	switch v.(type) {
	case string, nil, bool:
		return decimal.Zero, false
	}
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, errors.New("nil decimal")
		}
		return *x, nil
	case decimal.NullDecimal:
		if !x.Valid {
			return decimal.Zero, errors.New("null decimal")
		}
		return x.Decimal, nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}

func fromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("non-finite number %v", f)
	}
	return decimal.NewFromFloat(f), nil
}
