package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

// Bounds mirroring the marketplace policy defaults.
const (
	MaxItemNameLen = 100
	MaxCategoryLen = 50
	MinQueryLen    = 2
	MaxQueryLen    = 50
)

var (
	itemNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-'.]+$`)
	categoryPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-]+$`)
)

// ValidateListingRequest checks the submit/remove payload shape. Item
// existence is the catalog cache's job, not this package's.
func ValidateListingRequest(item, side, price string, minPrice, maxPrice decimal.Decimal) ValidationErrors {
	var errs ValidationErrors

	if msg := checkItemName(item); msg != "" {
		errs = append(errs, FieldError{Field: "item", Message: msg})
	}

	s := strings.ToLower(strings.TrimSpace(side))
	if s != "buy" && s != "sell" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}

	if _, err := ParsePrice(price, minPrice, maxPrice); err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}

	return errs
}

func ValidateItemName(name string) error {
	if msg := checkItemName(name); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func checkItemName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "item name is required"
	}
	if len(trimmed) > MaxItemNameLen {
		return fmt.Sprintf("item name too long (max %d characters)", MaxItemNameLen)
	}
	if !itemNamePattern.MatchString(trimmed) {
		return "item name contains invalid characters"
	}
	return ""
}

func ValidateCategory(category string) error {
	trimmed := strings.TrimSpace(category)
	if trimmed == "" {
		return fmt.Errorf("category is required")
	}
	if len(trimmed) > MaxCategoryLen {
		return fmt.Errorf("category too long (max %d characters)", MaxCategoryLen)
	}
	if !categoryPattern.MatchString(trimmed) {
		return fmt.Errorf("category contains invalid characters")
	}
	return nil
}

func ValidateSearchQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < MinQueryLen {
		return fmt.Errorf("search query too short (minimum %d characters)", MinQueryLen)
	}
	if len(trimmed) > MaxQueryLen {
		return fmt.Errorf("search query too long (maximum %d characters)", MaxQueryLen)
	}
	return nil
}

// ParsePrice accepts "$1,234.56" style input, strips the currency
// noise, enforces the configured bounds, and rounds to cents.
func ParsePrice(raw string, min, max decimal.Decimal) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("price is required")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price must be a number")
	}

	price = price.Round(2)
	if price.LessThan(min) {
		return decimal.Zero, fmt.Errorf("price too low (minimum %s)", min.String())
	}
	if max.IsPositive() && price.GreaterThan(max) {
		return decimal.Zero, fmt.Errorf("price too high (maximum %s)", max.String())
	}
	return price, nil
}

// SanitizeText strips markup-significant characters and collapses
// whitespace before a value is stored.
func SanitizeText(text string) string {
	cleaned := strings.NewReplacer("<", "", ">", "", `"`, "", "'", "").Replace(text)
	return strings.Join(strings.Fields(cleaned), " ")
}
