// Package export renders an owner's products as CSV in background jobs.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/store"
)

// Columns is the fixed leading header of an export. Extra field names follow, sorted.
var Columns = []string{
	"id",
	"name",
	"sku",
	"quantity",
	"margin_percent",
	"buying_price",
	"transportation",
	"packaging",
	"warehouse",
	"marketplace_commission_percent",
	"expenses",
	"recommended_price",
	"net_profit",
	"created_at",
	"updated_at",
}

// WriteCSV writes products with one column per distinct extra field name.
// A product lacking an extra field gets an empty cell; if a product repeats a
// name, the field with the highest id wins.
func WriteCSV(w io.Writer, products []store.Product) error {
	extraNames := extraFieldNames(products)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(slices.Clone(Columns), extraNames...)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range products {
		extras := make(map[string]string, len(p.OtherFields))
		for _, f := range p.OtherFields {
			extras[f.FieldName] = f.Value.String()
		}

		record := []string{
			strconv.FormatInt(p.ID, 10),
			p.Name,
			p.SKU.String,
			formatInt(p.Quantity.Int64, p.Quantity.Valid),
			formatMoney(p.MarginPercent),
			formatMoney(p.BuyingPrice),
			formatMoney(p.Transportation),
			formatMoney(p.Packaging),
			formatMoney(p.Warehouse),
			formatMoney(p.MarketplaceCommissionPercent),
			formatMoney(p.Expenses),
			formatMoney(p.RecommendedPrice),
			formatMoney(p.NetProfit),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.UpdatedAt.UTC().Format(time.RFC3339),
		}
		for _, name := range extraNames {
			record = append(record, extras[name])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row for product %d: %w", p.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func extraFieldNames(products []store.Product) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range products {
		for _, f := range p.OtherFields {
			if _, ok := seen[f.FieldName]; ok {
				continue
			}
			seen[f.FieldName] = struct{}{}
			names = append(names, f.FieldName)
		}
	}
	slices.Sort(names)
	return names
}

func formatMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func formatInt(v int64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
