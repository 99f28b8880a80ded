package money

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
)

// TestDataGenerator produces register-shaped values for tests.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a fixed seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// AmountString returns a strictly formatted amount between min and max cents.
func (g *TestDataGenerator) AmountString(minCents, maxCents int) string {
	cents := g.faker.Number(minCents, maxCents)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// MalformedAmountString returns a value that must fail strict validation.
func (g *TestDataGenerator) MalformedAmountString() string {
	forms := []string{
		"%d,%02d",
		"%d.%02d EUR",
		"%d %02d",
		"%d.%02d0",
	}
	form := forms[g.faker.Number(0, len(forms)-1)]
	return fmt.Sprintf(form, g.faker.Number(1, 9999), g.faker.Number(0, 99))
}

// InvoiceNumber returns an upper-case alphanumeric invoice reference.
func (g *TestDataGenerator) InvoiceNumber() string {
	return strings.ToUpper(g.faker.Regex(`[A-Z]{2}[0-9]{6}`))
}

// CategoryCode returns a category code such as "B12".
func (g *TestDataGenerator) CategoryCode() string {
	return g.faker.Regex(`[A-Z][A-Z0-9]{1,3}`)
}

// Sentence returns a short description.
func (g *TestDataGenerator) Sentence() string {
	return strings.ToUpper(g.faker.Sentence(4))
}

// Pick returns one of values.
func (g *TestDataGenerator) Pick(values []string) string {
	return values[g.faker.Number(0, len(values)-1)]
}
