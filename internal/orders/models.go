package orders

import "time"

type Order struct {
	OrderID       string    `json:"order_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	CustomerEmail string    `json:"customer_email"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type InventoryItem struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}
