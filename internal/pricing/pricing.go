package pricing

import "github.com/shopspring/decimal"

// Places is the number of fractional digits every money value is rounded to.
const Places = 2

// Result contains the three derived pricing values of a product.
type Result struct {
	Expenses         decimal.Decimal
	RecommendedPrice decimal.Decimal
	NetProfit        decimal.Decimal
}

// Calculator derives expenses, recommended price and net profit from classified inputs.
type Calculator struct {
	sumValues     []decimal.Decimal
	percentValues []decimal.Decimal
	marginPercent decimal.Decimal
}

// NewCalculator builds a Calculator. A zero marginPercent means no markup.
func NewCalculator(sumValues, percentValues []decimal.Decimal, marginPercent decimal.Decimal) Calculator {
	return Calculator{
		sumValues:     sumValues,
		percentValues: percentValues,
		marginPercent: marginPercent,
	}
}

// TotalExpenses adds every percentage surcharge, taken over the additive base, to that base.
// The result is rounded once, after full-precision accumulation.
func (c Calculator) TotalExpenses() decimal.Decimal {
	base := decimal.Sum(decimal.Zero, c.sumValues...)

	total := base
	for _, p := range c.percentValues {
		total = total.Add(base.Mul(percentOf(p)))
	}

	return Round(total)
}

// RecommendedPrice applies the margin percentage on top of totalExpenses.
func (c Calculator) RecommendedPrice(totalExpenses decimal.Decimal) decimal.Decimal {
	markup := totalExpenses.Mul(percentOf(c.marginPercent))
	return Round(totalExpenses.Add(markup))
}

// NetProfit is the difference between the recommended price and the expenses.
func (c Calculator) NetProfit(totalExpenses, recommendedPrice decimal.Decimal) decimal.Decimal {
	return Round(recommendedPrice.Sub(totalExpenses))
}

// Result runs the three stages in order, each one consuming the rounded output of the previous.
func (c Calculator) Result() Result {
	expenses := c.TotalExpenses()
	recommended := c.RecommendedPrice(expenses)

	return Result{
		Expenses:         expenses,
		RecommendedPrice: recommended,
		NetProfit:        c.NetProfit(expenses, recommended),
	}
}

// Round rounds d half away from zero to Places fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// percentOf turns a percentage into a ratio without going through inexact division.
func percentOf(p decimal.Decimal) decimal.Decimal {
	return p.Shift(-2)
}
