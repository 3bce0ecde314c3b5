package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const maxCategoryLength = 45

var (
	// Regex pattern for validating decimal amounts with up to 2 decimal places
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
)

// ParseAmount parses a decimal string with up to 2 decimal places.
// Returns ErrInvalidAmount if the value is malformed or not positive.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if !amountPattern.MatchString(value) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal with up to 2 decimal places", ErrInvalidAmount, value)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	return amount, ValidateAmount(amount)
}

// ValidateAmount checks that an amount is positive and has at most 2 decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: at most 2 decimal places allowed", ErrInvalidAmount)
	}
	return nil
}

// ValidateCategory checks a user supplied category label.
func ValidateCategory(category string) error {
	category = strings.TrimSpace(category)
	if category == "" || len(category) > maxCategoryLength {
		return ErrInvalidCategory
	}
	return nil
}

// ParseCadence validates a recurring_time value.
func ParseCadence(v string) (Cadence, error) {
	c := Cadence(v)
	if _, err := c.Interval(); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCadence, v)
	}
	return c, nil
}

// ParseRecurringStatus validates a status supplied on update.
// Only approved and paused can be set by users; failed is set by the scheduler.
func ParseRecurringStatus(v string) (RecurringStatus, error) {
	switch s := RecurringStatus(v); s {
	case "":
		return RecurringStatusApproved, nil
	case RecurringStatusApproved, RecurringStatusPaused:
		return s, nil
	}
	return "", fmt.Errorf("%w: status %q cannot be set", ErrInvalidArgument, v)
}
