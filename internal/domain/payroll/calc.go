package payroll

import "github.com/shopspring/decimal"

const moneyPlaces = 2

// Compute turns a resolved bundle into a payslip. It has no side effects and
// the same bundle always yields the same payslip; identity fields are left to the caller.
func Compute(b Bundle) PaySlip {
	earnings := Earnings{
		BaseSalary: b.BaseSalary,
		Allowances: cloneEarnings(b.Allowances),
		Bonuses:    cloneEarnings(b.Bonuses),
		Benefits:   cloneEarnings(b.Benefits),
		Refunds:    cloneEarnings(b.Refunds),
	}
	deductions := Deductions{
		Taxes:      append([]TaxLine{}, b.Taxes...),
		Insurances: append([]InsuranceLine{}, b.Insurances...),
		Penalties:  Penalties{Penalties: append([]PenaltyLine{}, b.Penalties...)},
	}

	gross := GrossOf(earnings)
	total := DeductionsOf(b.BaseSalary, deductions)
	net := gross.Sub(total)

	slip := PaySlip{
		EmployeeID:       b.EmployeeID,
		Earnings:         earnings,
		Deductions:       deductions,
		TotalGrossSalary: gross,
		TotalDeductions:  total,
		NetPay:           net,
		PaymentStatus:    PaymentPending,
	}
	var flags []ExceptionFlag
	if net.IsNegative() {
		flags = append(flags, NegativeNetFlag(net))
	}
	slip.SetFlags(flags)
	return slip
}

func NegativeNetFlag(net decimal.Decimal) ExceptionFlag {
	return ExceptionFlag{
		Code:     CodeNegativeNetPay,
		Message:  "net pay is negative (" + net.StringFixed(moneyPlaces) + ")",
		Field:    "netPay",
		Severity: SeverityError,
	}
}

// GrossOf is base salary plus every additive earnings line.
func GrossOf(e Earnings) decimal.Decimal {
	gross := e.BaseSalary
	for _, group := range [][]EarningLine{e.Allowances, e.Bonuses, e.Benefits, e.Refunds} {
		for _, line := range group {
			gross = gross.Add(line.Amount)
		}
	}
	return gross.Round(moneyPlaces)
}

// DeductionsOf applies tax and insurance rates to base salary, not gross.
func DeductionsOf(baseSalary decimal.Decimal, d Deductions) decimal.Decimal {
	total := decimal.Zero
	for _, tax := range d.Taxes {
		total = total.Add(TaxContribution(tax, baseSalary))
	}
	for _, insurance := range d.Insurances {
		total = total.Add(InsuranceContribution(insurance, baseSalary))
	}
	for _, penalty := range d.Penalties.Penalties {
		total = total.Add(penalty.Amount)
	}
	return total.Round(moneyPlaces)
}

func TaxContribution(line TaxLine, baseSalary decimal.Decimal) decimal.Decimal {
	return percentOf(line.Rate, baseSalary)
}

func InsuranceContribution(line InsuranceLine, baseSalary decimal.Decimal) decimal.Decimal {
	return percentOf(line.EmployeeRate, baseSalary)
}

func percentOf(rate, base decimal.Decimal) decimal.Decimal {
	return rate.Mul(base).Div(hundred).Round(moneyPlaces)
}

// Contribution is one deduction line as displayed.
type Contribution struct {
	Kind   string          `json:"kind"`
	Name   string          `json:"name"`
	Rate   *string         `json:"rate,omitempty"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown lists every deduction line of a payslip with its computed amount.
func Breakdown(p PaySlip) []Contribution {
	base := p.Earnings.BaseSalary
	out := make([]Contribution, 0, len(p.Deductions.Taxes)+len(p.Deductions.Insurances)+len(p.Deductions.Penalties.Penalties))
	for _, tax := range p.Deductions.Taxes {
		rate := tax.Rate.String()
		out = append(out, Contribution{Kind: "tax", Name: tax.Name, Rate: &rate, Amount: TaxContribution(tax, base)})
	}
	for _, insurance := range p.Deductions.Insurances {
		rate := insurance.EmployeeRate.String()
		out = append(out, Contribution{Kind: "insurance", Name: insurance.Name, Rate: &rate, Amount: InsuranceContribution(insurance, base)})
	}
	for _, penalty := range p.Deductions.Penalties.Penalties {
		out = append(out, Contribution{Kind: "penalty", Name: penalty.Reason, Amount: penalty.Amount})
	}
	return out
}

func cloneEarnings(lines []EarningLine) []EarningLine {
	return append([]EarningLine{}, lines...)
}
