package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

// Cost field names as they appear in requests and in the classifier input.
const (
	FieldBuyingPrice                  = "buying_price"
	FieldTransportation               = "transportation"
	FieldPackaging                    = "packaging"
	FieldWarehouse                    = "warehouse"
	FieldMarketplaceCommissionPercent = "marketplace_commission_percent"
)

// CostFields is the fixed order in which product cost columns are classified.
var CostFields = []string{
	FieldBuyingPrice,
	FieldTransportation,
	FieldPackaging,
	FieldWarehouse,
	FieldMarketplaceCommissionPercent,
}

// ProductInputs builds the classifier input of a product: its cost columns in
// CostFields order, its margin and its extra fields. Name, sku and quantity are
// not costs and are left out.
func ProductInputs(p store.Product) pricing.Inputs {
	columns := map[string]decimal.NullDecimal{
		FieldBuyingPrice:                  p.BuyingPrice,
		FieldTransportation:               p.Transportation,
		FieldPackaging:                    p.Packaging,
		FieldWarehouse:                    p.Warehouse,
		FieldMarketplaceCommissionPercent: p.MarketplaceCommissionPercent,
	}

	inputs := make(pricing.Inputs, 0, len(CostFields)+2)
	for _, name := range CostFields {
		if v := columns[name]; v.Valid {
			inputs = append(inputs, pricing.Field{Name: name, Value: v.Decimal})
		}
	}
	if p.MarginPercent.Valid {
		inputs = append(inputs, pricing.Field{Name: pricing.FieldMarginPercent, Value: p.MarginPercent.Decimal})
	}

	extras := make([]pricing.ExtraInput, 0, len(p.OtherFields))
	for _, f := range p.OtherFields {
		extras = append(extras, pricing.ExtraInput{FieldName: f.FieldName, Value: f.Value})
	}
	return append(inputs, pricing.Field{Name: pricing.FieldOtherFields, Value: extras})
}
