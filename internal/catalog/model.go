package catalog

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	Slug        string    `json:"slug"`
	Products    []Product `json:"products,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Product prices are in minor currency units.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Slug        string    `json:"slug"`
	Price       int64     `json:"price"`
	Stock       int64     `json:"stock"`
	Images      []string  `json:"images"`
	CategoryID  uuid.UUID `json:"category_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewCategory struct {
	Name        string `json:"name" validate:"required,max=30"`
	Description string `json:"description" validate:"required,max=200"`
	Image       string `json:"image" validate:"required,url"`
}

// CategoryUpdate applies only the fields that are set.
type CategoryUpdate struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=30"`
	Description *string `json:"description" validate:"omitempty,min=1,max=200"`
	Image       *string `json:"image" validate:"omitempty,url"`
}

type NewProduct struct {
	Name        string    `json:"name" validate:"required,max=100"`
	Description string    `json:"description" validate:"required"`
	Price       int64     `json:"price" validate:"required,gte=0"`
	Stock       int64     `json:"stock" validate:"gte=0"`
	CategoryID  uuid.UUID `json:"category" validate:"required"`
	Images      []string  `json:"images" validate:"required,min=1,dive,url"`
}

// ProductUpdate applies only the fields that are set.
type ProductUpdate struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string    `json:"description" validate:"omitempty,min=1"`
	Price       *int64     `json:"price" validate:"omitempty,gte=0"`
	Stock       *int64     `json:"stock" validate:"omitempty,gte=0"`
	CategoryID  *uuid.UUID `json:"category"`
	Images      []string   `json:"images" validate:"omitempty,dive,url"`
}

type ProductFilter struct {
	Page     int
	Limit    int
	Name     string
	MinPrice int64
	MaxPrice int64
}

type ProductPage struct {
	Products      []Product `json:"products"`
	Page          int       `json:"page"`
	TotalPages    int       `json:"totalPages"`
	TotalProducts int64     `json:"totalProducts"`
}

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// normalize fills defaults the way the listing endpoint documents them.
// A zero MaxPrice means no upper bound.
func (f ProductFilter) normalize() ProductFilter {
	if f.Page < 1 {
		f.Page = defaultPage
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.MinPrice < 0 {
		f.MinPrice = 0
	}
	return f
}

func (f ProductFilter) offset() int {
	return (f.Page - 1) * f.Limit
}

func totalPages(count int64, limit int) int {
	if count == 0 {
		return 0
	}
	return int((count + int64(limit) - 1) / int64(limit))
}
