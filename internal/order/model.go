package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// LineItem is the product snapshot taken at checkout. UnitPrice is in minor units.
type LineItem struct {
	ProductID uuid.UUID `json:"product"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Quantity  int64     `json:"quantity"`
}

func Total(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitPrice * it.Quantity
	}
	return total
}

type Order struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Items     []LineItem `json:"products"`
	Total     int64      `json:"total"`
	Address   string     `json:"address"`
	Phone     string     `json:"phone"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const missingContact = "null"

// New builds an accepted order. Empty address or phone are stored as "null".
func New(id, sessionID string, userID uuid.UUID, items []LineItem, total int64, address, phone string, now time.Time) *Order {
	if address == "" {
		address = missingContact
	}
	if phone == "" {
		phone = missingContact
	}
	return &Order{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Items:     items,
		Total:     total,
		Address:   address,
		Phone:     phone,
		Status:    StatusAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
