package payroll

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(flags []ExceptionFlag) []string {
	out := make([]string, 0, len(flags))
	for _, flag := range flags {
		out = append(out, flag.Code)
	}
	return out
}

func TestDetectCleanEmployeeHasNoFlags(t *testing.T) {
	bundle := Bundle{BaseSalary: d("5000"), BankStatus: BankStatusValid}
	flags := NewDetector(decimal.Zero).Detect("emp-1", bundle, Compute(bundle))
	assert.Empty(t, flags)
	assert.NotNil(t, flags)
}

func TestDetectRulesRunInOrder(t *testing.T) {
	previous := d("100")
	bundle := Bundle{
		BaseSalary:           decimal.Zero,
		Penalties:            []PenaltyLine{{Reason: "late", Amount: d("50")}},
		BankStatus:           BankStatusMissing,
		HasUnresolvedDispute: true,
		HREvents:             []string{HREventUnpaidLeave},
		PreviousNetPay:       &previous,
	}
	slip := Compute(bundle)
	flags := NewDetector(decimal.Zero).Detect("emp-1", bundle, slip)

	assert.Equal(t, []string{
		CodeMissingBankDetails,
		CodeUnresolvedDispute,
		CodeHREventAccrualMismatch,
		CodeUnusualNetDelta,
		CodeNegativeNetPay,
	}, codes(flags))
	assert.Equal(t, SeverityError, flags[4].Severity)
	for _, flag := range flags[:4] {
		assert.Equal(t, SeverityWarn, flag.Severity)
	}
}

func TestDetectNegativeNetIsNotDuplicated(t *testing.T) {
	bundle := Bundle{Penalties: []PenaltyLine{{Reason: "late", Amount: d("1")}}, BankStatus: BankStatusValid}
	slip := Compute(bundle)
	require.Len(t, slip.ExceptionsFlags, 1)

	flags := NewDetector(decimal.Zero).Detect("emp-1", bundle, slip)
	assert.Equal(t, []string{CodeNegativeNetPay}, codes(flags))
}

func TestDetectInvalidBank(t *testing.T) {
	bundle := Bundle{BaseSalary: d("10"), BankStatus: BankStatusInvalid}
	flags := NewDetector(decimal.Zero).Detect("emp-1", bundle, Compute(bundle))
	assert.Equal(t, []string{CodeInvalidBankDetails}, codes(flags))
}

func TestDetectAccrualMismatch(t *testing.T) {
	cases := []struct {
		name   string
		bundle Bundle
		flag   bool
	}{
		{
			name:   "event and deduction agree",
			bundle: Bundle{BaseSalary: d("3000"), UnpaidLeaveDays: d("2"), HREvents: []string{HREventUnpaidLeave}, Penalties: []PenaltyLine{{Reason: PenaltyReasonUnpaidLeave, Amount: d("193.55")}}},
		},
		{
			name:   "days without event",
			bundle: Bundle{BaseSalary: d("3000"), UnpaidLeaveDays: d("2"), Penalties: []PenaltyLine{{Reason: PenaltyReasonUnpaidLeave, Amount: d("193.55")}}},
			flag:   true,
		},
		{
			name:   "event without days",
			bundle: Bundle{BaseSalary: d("3000"), HREvents: []string{HREventUnpaidLeave}},
			flag:   true,
		},
		{
			name:   "days not deducted",
			bundle: Bundle{BaseSalary: d("3000"), UnpaidLeaveDays: d("1"), HREvents: []string{HREventUnpaidLeave}},
			flag:   true,
		},
		{
			name:   "suspension without days",
			bundle: Bundle{BaseSalary: d("3000"), HREvents: []string{HREventSuspension}},
			flag:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.bundle.BankStatus = BankStatusValid
			flags := NewDetector(decimal.Zero).Detect("emp-1", tc.bundle, Compute(tc.bundle))
			if tc.flag {
				assert.Contains(t, codes(flags), CodeHREventAccrualMismatch)
			} else {
				assert.NotContains(t, codes(flags), CodeHREventAccrualMismatch)
			}
		})
	}
}

func TestDetectNetDeltaThreshold(t *testing.T) {
	previous := d("1000")
	bundle := Bundle{BaseSalary: d("1500"), BankStatus: BankStatusValid, PreviousNetPay: &previous}

	// exactly 50% is not above the default threshold
	assert.Empty(t, NewDetector(decimal.Zero).Detect("emp-1", bundle, Compute(bundle)))

	bundle.BaseSalary = d("1500.01")
	assert.Equal(t, []string{CodeUnusualNetDelta}, codes(NewDetector(decimal.Zero).Detect("emp-1", bundle, Compute(bundle))))

	bundle.BaseSalary = d("1200")
	assert.Equal(t, []string{CodeUnusualNetDelta}, codes(NewDetector(d("0.1")).Detect("emp-1", bundle, Compute(bundle))))
}

func TestDetectorWithRulesAppendsAfterBuiltIns(t *testing.T) {
	custom := func(_ string, _ Bundle, _ PaySlip) []ExceptionFlag {
		return []ExceptionFlag{{Code: "CUSTOM", Severity: SeverityWarn}}
	}
	bundle := Bundle{BaseSalary: d("1"), BankStatus: BankStatusMissing}
	flags := NewDetector(decimal.Zero).WithRules(custom).Detect("emp-1", bundle, Compute(bundle))
	assert.Equal(t, []string{CodeMissingBankDetails, "CUSTOM"}, codes(flags))
}
