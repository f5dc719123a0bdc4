package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount   = errors.New("money: invalid amount")
	ErrNegativeAmount  = errors.New("money: amount must be non-negative")
	ErrInvalidCurrency = errors.New("money: invalid currency code")
)

// Money keeps amounts in integer cents to avoid floating point issues.
type Money struct {
	Cents    int64
	Currency string
}

// New constructs a Money value validating minimal invariants.
func New(cents int64, currency string) (Money, error) {
	if len(currency) != 3 {
		return Money{}, ErrInvalidCurrency
	}
	if cents < 0 {
		return Money{}, ErrNegativeAmount
	}
	return Money{Cents: cents, Currency: strings.ToUpper(currency)}, nil
}

// Must creates Money and panics if validation fails; useful in tests and fixtures.
func Must(cents int64, currency string) Money {
	m, err := New(cents, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Parse reads a two-decimal price string such as "65.00" or "65".
func Parse(raw, currency string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") {
		return Money{}, ErrInvalidAmount
	}
	whole, frac, hasFrac := strings.Cut(raw, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := units * 100
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return Money{}, ErrInvalidAmount
		}
		if len(frac) == 1 {
			frac += "0"
		}
		sub, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || sub < 0 {
			return Money{}, ErrInvalidAmount
		}
		cents += sub
	}
	return New(cents, currency)
}

// String renders the amount with two decimals, e.g. "65.00".
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d", m.Cents/100, m.Cents%100)
}
