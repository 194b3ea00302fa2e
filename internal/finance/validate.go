package finance

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrNegativeAmount is returned when a money field is below zero
var ErrNegativeAmount = errors.New("amount must not be negative")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).Valid()
	})
	v.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		return Period(fl.Field().String()).Valid()
	})
	return v
}

// Validator returns the shared validator with the finance rules registered,
// for request structs that reference categories or periods.
func Validator() *validator.Validate {
	return validate
}

func nonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%s: %w", field, ErrNegativeAmount)
	}
	return nil
}

// Validate checks a receipt and its items
func (r Receipt) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid receipt: %w", err)
	}
	if err := nonNegative("total", r.Total); err != nil {
		return fmt.Errorf("invalid receipt: %w", err)
	}
	for _, item := range r.Items {
		if err := nonNegative("item price", item.Price); err != nil {
			return fmt.Errorf("invalid receipt: %w", err)
		}
	}
	return nil
}

// Validate checks a budget
func (b Budget) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid budget: %w", err)
	}
	if err := nonNegative("limit", b.Limit); err != nil {
		return fmt.Errorf("invalid budget: %w", err)
	}
	if err := nonNegative("spent", b.Spent); err != nil {
		return fmt.Errorf("invalid budget: %w", err)
	}
	return nil
}

// Validate checks a shopping list and its items
func (l ShoppingList) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid shopping list: %w", err)
	}
	return nil
}
