package models

import (
	"errors"
	"fmt"
	"strings"
)

// Category names an independent queue of pending writes.
type Category string

const (
	CategoryProduction Category = "production"
	CategorySales      Category = "sales"
)

// Categories lists every category in drain order.
var Categories = []Category{CategoryProduction, CategorySales}

var ErrUnknownCategory = errors.New("unknown category")

// Action returns the remote write action for the category.
func (c Category) Action() string {
	switch c {
	case CategoryProduction:
		return ActionSaveProduction
	case CategorySales:
		return ActionSaveSales
	default:
		return ""
	}
}

func (c Category) Valid() bool {
	return c.Action() != ""
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory accepts the canonical names plus the Spanish aliases used by
// the front-end pages.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "produccion", "producción":
		return CategoryProduction, nil
	case "sales", "ventas":
		return CategorySales, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
}
