package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/ecominsight/internal/cache"
	"github.com/Simplici0/ecominsight/internal/db"
	"github.com/Simplici0/ecominsight/internal/migrations"
	"github.com/Simplici0/ecominsight/internal/pricing"
	"github.com/Simplici0/ecominsight/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "catalog-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = migrations.Up(ctx, database)
	require.NoError(t, err)

	st := store.New(database)
	owner, err := st.CreateUser(ctx, "owner@example.com", "hash")
	require.NoError(t, err)

	return NewService(st, cache.NewMemory(100, time.Minute), nil), st, owner.ID
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func ptr[T any](v T) *T { return &v }

func assertPricing(t *testing.T, p store.Product, expenses, recommended, net string) {
	t.Helper()
	assert.True(t, p.Expenses.Decimal.Equal(decimal.RequireFromString(expenses)), "expenses=%s want %s", p.Expenses.Decimal, expenses)
	assert.True(t, p.RecommendedPrice.Decimal.Equal(decimal.RequireFromString(recommended)), "recommended=%s want %s", p.RecommendedPrice.Decimal, recommended)
	assert.True(t, p.NetProfit.Decimal.Equal(decimal.RequireFromString(net)), "net=%s want %s", p.NetProfit.Decimal, net)
}

func baseInput() ProductInput {
	return ProductInput{
		Name:                         ptr("Mug"),
		SKU:                          ptr("MUG-1"),
		Quantity:                     ptr(int64(40)),
		MarginPercent:                dp("20"),
		BuyingPrice:                  dp("100"),
		Transportation:               dp("10"),
		MarketplaceCommissionPercent: dp("10"),
		OtherFields: []pricing.ExtraFieldChange{
			{FieldName: ptr("marketing"), Value: dp("9")},
		},
	}
}

func TestProductInputs_ExcludesQuantityAndKeepsOrder(t *testing.T) {
	p := store.Product{
		Quantity:      sql.NullInt64{Int64: 1000, Valid: true},
		Warehouse:     decimal.NewNullDecimal(decimal.NewFromInt(3)),
		BuyingPrice:   decimal.NewNullDecimal(decimal.NewFromInt(1)),
		MarginPercent: decimal.NewNullDecimal(decimal.NewFromInt(50)),
		OtherFields:   []pricing.ExtraField{{ID: 1, FieldName: "x", Value: decimal.NewFromInt(2)}},
	}

	in := ProductInputs(p)
	require.Len(t, in, 4)
	assert.Equal(t, FieldBuyingPrice, in[0].Name)
	assert.Equal(t, FieldWarehouse, in[1].Name)
	assert.Equal(t, pricing.FieldMarginPercent, in[2].Name)
	assert.Equal(t, pricing.FieldOtherFields, in[3].Name)

	res, err := pricing.NewClassifier(nil).Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, "6.00", res.Expenses.StringFixed(2))
	assert.Equal(t, "9.00", res.RecommendedPrice.StringFixed(2))
}

func TestCreate_ComputesPricingFromColumnsAndExtras(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)

	p, err := svc.Create(context.Background(), owner, baseInput())
	require.NoError(t, err)

	assert.NotZero(t, p.ID)
	require.Len(t, p.OtherFields, 1)
	assertPricing(t, p, "130.90", "157.08", "26.18")
}

func TestUpdate_MergesReconcilesAndReprices(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)
	marketingID := p.OtherFields[0].ID

	updated, err := svc.Update(ctx, owner, p.ID, ProductInput{
		Transportation: dp("20"),
		OtherFields: []pricing.ExtraFieldChange{
			{ID: &marketingID, Value: dp("19")},
			{FieldName: ptr("ads_percent"), Value: dp("5")},
			{ID: ptr(int64(999)), FieldName: ptr("ghost"), Value: dp("1000")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Mug", updated.Name)
	assert.Equal(t, "MUG-1", updated.SKU.String)
	require.Len(t, updated.OtherFields, 2)
	assert.Equal(t, marketingID, updated.OtherFields[0].ID)
	assert.Equal(t, "marketing", updated.OtherFields[0].FieldName)
	assert.Equal(t, "ads_percent", updated.OtherFields[1].FieldName)
	assertPricing(t, updated, "159.85", "191.82", "31.97")
}

func TestUpdate_OtherOwnerIsNotFound(t *testing.T) {
	t.Parallel()
	svc, st, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)

	other, err := st.CreateUser(ctx, "other@example.com", "hash")
	require.NoError(t, err)

	_, err = svc.Update(ctx, other.ID, p.ID, ProductInput{Name: ptr("stolen")})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, other.ID, p.ID), store.ErrNotFound)

	got, err := svc.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mug", got.Name)
}

func TestExtraFieldChanges_RepriceParent(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)
	fieldID := p.OtherFields[0].ID

	field, err := svc.UpdateExtraField(ctx, owner, fieldID, pricing.ExtraFieldChange{Value: dp("19")})
	require.NoError(t, err)
	assert.Equal(t, "marketing", field.FieldName)
	assert.Equal(t, p.ID, field.ProductID)

	got, err := svc.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assertPricing(t, got, "141.90", "170.28", "28.38")

	require.NoError(t, svc.DeleteExtraField(ctx, owner, fieldID))

	got, err = svc.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.OtherFields)
	assertPricing(t, got, "121.00", "145.20", "24.20")

	assert.ErrorIs(t, svc.DeleteExtraField(ctx, owner, fieldID), store.ErrNotFound)
}

func TestListEncoded_CachesUntilWrite(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)
	ctx := context.Background()

	calls := 0
	encode := func(products []store.Product) ([]byte, error) {
		calls++
		return json.Marshal(len(products))
	}
	filter := store.ProductFilter{OwnerID: owner}

	body, err := svc.ListEncoded(ctx, filter, encode)
	require.NoError(t, err)
	assert.Equal(t, "0", string(body))

	_, err = svc.ListEncoded(ctx, filter, encode)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)

	body, err = svc.ListEncoded(ctx, filter, encode)
	require.NoError(t, err)
	assert.Equal(t, "1", string(body))
	assert.Equal(t, 2, calls)
}

func TestCalculate_RejectsMalformedExtraFields(t *testing.T) {
	svc := NewService(nil, nil, nil)

	_, err := svc.Calculate(pricing.Inputs{{Name: pricing.FieldOtherFields, Value: "nope"}})
	assert.ErrorIs(t, err, pricing.ErrShape)

	res, err := svc.Calculate(pricing.Inputs{
		{Name: FieldBuyingPrice, Value: "10"},
		{Name: pricing.FieldMarginPercent, Value: "50"},
	})
	require.NoError(t, err)
	assert.Equal(t, "15.00", res.RecommendedPrice.StringFixed(2))
}

func TestQuote_PricesWithoutStoring(t *testing.T) {
	t.Parallel()
	svc, st, owner := newTestService(t)

	res, err := svc.Quote(baseInput())
	require.NoError(t, err)
	assert.Equal(t, "130.90", res.Expenses.StringFixed(2))
	assert.Equal(t, "157.08", res.RecommendedPrice.StringFixed(2))
	assert.Equal(t, "26.18", res.NetProfit.StringFixed(2))

	products, err := st.ListProducts(context.Background(), store.ProductFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestListEncoded_WriteDuringReadIsNotCached(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)

	filter := store.ProductFilter{OwnerID: owner}
	names := func(products []store.Product) ([]byte, error) {
		out := make([]string, 0, len(products))
		for _, p := range products {
			out = append(out, p.Name)
		}
		return json.Marshal(out)
	}

	// The write commits after the listing was read but before it is stored.
	body, err := svc.ListEncoded(ctx, filter, func(products []store.Product) ([]byte, error) {
		if _, err := svc.Update(ctx, owner, p.ID, ProductInput{Name: ptr("Renamed")}); err != nil {
			return nil, err
		}
		return names(products)
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["Mug"]`, string(body))

	body, err = svc.ListEncoded(ctx, filter, names)
	require.NoError(t, err)
	assert.JSONEq(t, `["Renamed"]`, string(body))
}

func TestUpdate_ConcurrentWritersLastOneWins(t *testing.T) {
	t.Parallel()
	svc, _, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)

	const writers = 20
	written := make(map[string]bool, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		price := strconv.Itoa(100 + i)
		written[decimal.RequireFromString(price).String()] = true

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, owner, p.ID, ProductInput{BuyingPrice: dp(price)})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	got, err := svc.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.True(t, written[got.BuyingPrice.Decimal.String()], "buying_price %s was never written", got.BuyingPrice.Decimal)

	want, err := pricing.NewClassifier(nil).Calculate(ProductInputs(got))
	require.NoError(t, err)
	assertPricing(t, got, want.Expenses.String(), want.RecommendedPrice.String(), want.NetProfit.String())
}

func TestUpdate_FailedSaveLeavesProductAndExtraFieldsUnchanged(t *testing.T) {
	t.Parallel()
	svc, st, owner := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, owner, baseInput())
	require.NoError(t, err)
	marketingID := p.OtherFields[0].ID

	_, err = st.DB().Exec(`
		CREATE TRIGGER reject_product_save BEFORE UPDATE ON products
		BEGIN
			SELECT RAISE(ABORT, 'product save rejected');
		END
	`)
	require.NoError(t, err)

	_, err = svc.Update(ctx, owner, p.ID, ProductInput{
		Transportation: dp("50"),
		OtherFields: []pricing.ExtraFieldChange{
			{ID: &marketingID, FieldName: ptr("renamed"), Value: dp("90")},
			{FieldName: ptr("ads_percent"), Value: dp("5")},
		},
	})
	require.Error(t, err)

	got, err := svc.Get(ctx, owner, p.ID)
	require.NoError(t, err)
	require.Len(t, got.OtherFields, 1)
	assert.Equal(t, "marketing", got.OtherFields[0].FieldName)
	assert.Equal(t, "9", got.OtherFields[0].Value.String())
	assert.Equal(t, "10", got.Transportation.Decimal.String())
	assertPricing(t, got, "130.90", "157.08", "26.18")
}
