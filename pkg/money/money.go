// Package money provides cent-exact amount handling for register values.
// Register amounts are validated against a strict textual pattern before they
// are converted, so nothing that reaches a record was guessed at.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency codes used by the registers (ISO-4217)
const (
	EUR = "EUR"
	USD = "USD"
)

// StrictAmountPattern is the only accepted textual form of a register amount:
// optional minus, digits, point, one or two decimals.
var StrictAmountPattern = regexp.MustCompile(`^-?\d+\.\d{1,2}$`)

var integerPattern = regexp.MustCompile(`^\d+$`)

// ErrInvalidAmount is returned when a value does not match StrictAmountPattern.
var ErrInvalidAmount = errors.New("invalid amount")

// Money is a monetary value with a currency, backed by integer minor units.
type Money struct {
	m *money.Money
}

// New creates Money from minor units.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal value, rounding to the currency fraction.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(EUR)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currency.Code)
}

// Zero returns a zero amount.
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// Amount returns minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code.
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// Add returns m + other. Both must share a currency.
func (m *Money) Add(other *Money) (*Money, error) {
	res, err := m.m.Add(other.m)
	if err != nil {
		return nil, fmt.Errorf("failed to add amounts: %w", err)
	}
	return &Money{m: res}, nil
}

// Equals reports equality of amount and currency.
func (m *Money) Equals(other *Money) bool {
	if m == nil || other == nil {
		return m == other
	}
	eq, err := m.m.Equals(other.m)
	return err == nil && eq
}

// Display formats the amount with its currency symbol.
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// ToDecimal converts back to a decimal with the currency's fraction digits.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}

// IsStrictAmount reports whether raw (trimmed) matches StrictAmountPattern.
func IsStrictAmount(raw string) bool {
	return StrictAmountPattern.MatchString(strings.TrimSpace(raw))
}

// IsInteger reports whether raw (trimmed) is a run of digits.
func IsInteger(raw string) bool {
	return integerPattern.MatchString(strings.TrimSpace(raw))
}

// ParseStrict converts a strictly formatted amount into a decimal exact to
// the cent. Values that do not match StrictAmountPattern are rejected.
func ParseStrict(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if !StrictAmountPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d.Round(2), nil
}

// ParseLoose accepts amounts lifted out of free text: inner spaces are
// removed and a comma decimal separator is turned into a point.
func ParseLoose(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

// FormatCents renders a decimal with exactly two fraction digits ("-12.3" -> "-12.30").
func FormatCents(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Sum adds decimals into Money in the given currency.
func Sum(values []decimal.Decimal, currencyCode string) *Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return NewFromDecimal(total, currencyCode)
}
