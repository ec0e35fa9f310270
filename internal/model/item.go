package model

import (
	"fmt"
	"strings"
	"time"
)

// Item represents a stocked product.
type Item struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Category        string     `json:"category"`
	UnitOfMeasure   string     `json:"unit_of_measure"`
	ParLevel        int        `json:"par_level"`
	CurrentQuantity int        `json:"current_quantity"`
	ImageMime       string     `json:"image_mime,omitempty"`
	CreatedBy       *int64     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`

	// Derived, filled in by the store from the configured threshold.
	LowStock bool `json:"low_stock"`
}

// Item categories.
const (
	CategoryProduce     = "Produce"
	CategoryDairy       = "Dairy"
	CategoryMeatSeafood = "Meat & Seafood"
	CategoryDryGoods    = "Dry Goods"
	CategoryCanned      = "Canned Goods"
	CategoryBeverages   = "Beverages"
	CategoryFrozen      = "Frozen Foods"
	CategoryOther       = "Other"
)

// Categories lists every accepted item category in display order.
var Categories = []string{
	CategoryProduce,
	CategoryDairy,
	CategoryMeatSeafood,
	CategoryDryGoods,
	CategoryCanned,
	CategoryBeverages,
	CategoryFrozen,
	CategoryOther,
}

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsLowStock reports whether current falls below par by more than threshold.
func IsLowStock(parLevel, current, threshold int) bool {
	return parLevel-current > threshold
}

// MarkLowStock sets LowStock for the given threshold.
func (i *Item) MarkLowStock(threshold int) {
	i.LowStock = IsLowStock(i.ParLevel, i.CurrentQuantity, threshold)
}

// ItemInput carries the editable fields of an item. CurrentQuantity is only
// read on create; later changes go through stock adjustments.
type ItemInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	UnitOfMeasure   string `json:"unit_of_measure"`
	ParLevel        int    `json:"par_level"`
	CurrentQuantity int    `json:"current_quantity"`
}

// Validate checks the item invariants.
func (in *ItemInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.UnitOfMeasure = strings.TrimSpace(in.UnitOfMeasure)

	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name required", ErrValidation)
	case len(in.Name) > 255:
		return fmt.Errorf("%w: name too long", ErrValidation)
	case !ValidCategory(in.Category):
		return fmt.Errorf("%w: invalid category %q", ErrValidation, in.Category)
	case in.UnitOfMeasure == "":
		return fmt.Errorf("%w: unit_of_measure required", ErrValidation)
	case in.ParLevel < 0:
		return fmt.Errorf("%w: par_level must not be negative", ErrValidation)
	case in.CurrentQuantity < 0:
		return fmt.Errorf("%w: current_quantity must not be negative", ErrValidation)
	}
	return nil
}

// ItemFilter narrows item listings. Zero values mean no filter.
type ItemFilter struct {
	Category  string
	Search    string
	LowStock  bool
	Threshold int
}
