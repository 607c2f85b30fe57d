package directory

import (
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"payrun/internal/domain/payroll"
)

// ValidateBankAccount grades a payout destination. Values that look like an
// IBAN must pass the mod-97 check; anything else needs 6 to 34 alphanumerics.
func ValidateBankAccount(account string) payroll.BankStatus {
	account = strings.ToUpper(strings.Join(strings.Fields(account), ""))
	if account == "" {
		return payroll.BankStatusMissing
	}
	if len(account) < 6 || len(account) > 34 {
		return payroll.BankStatusInvalid
	}
	for _, r := range account {
		if !unicode.IsDigit(r) && (r < 'A' || r > 'Z') {
			return payroll.BankStatusInvalid
		}
	}
	if looksLikeIBAN(account) && !validIBAN(account) {
		return payroll.BankStatusInvalid
	}
	return payroll.BankStatusValid
}

func looksLikeIBAN(account string) bool {
	return len(account) >= 15 &&
		unicode.IsLetter(rune(account[0])) && unicode.IsLetter(rune(account[1])) &&
		unicode.IsDigit(rune(account[2])) && unicode.IsDigit(rune(account[3]))
}

func validIBAN(account string) bool {
	rearranged := account[4:] + account[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		if unicode.IsLetter(r) {
			digits.WriteString(strconv.Itoa(int(r-'A') + 10))
			continue
		}
		digits.WriteRune(r)
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
