package models

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// MessageRef points at an outbound message that may be edited later.
// Text marks a plain text message; the rest are photos with a caption.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
	Text      bool  `json:"text,omitempty"`
}

// Order maps to the `orders` table and to one value of orders.json.
// Orders are never deleted.
type Order struct {
	ID            string       `gorm:"column:order_id;primaryKey;size:64" json:"order_id"`
	UserID        int64        `gorm:"column:user_id;index" json:"user_id"`
	Username      string       `gorm:"column:username;size:300" json:"username"`
	ConfigID      int          `gorm:"column:config_id" json:"config_id"`
	Snapshot      *Config      `gorm:"column:config_snapshot;type:text;serializer:json" json:"config_snapshot,omitempty"`
	Status        OrderStatus  `gorm:"column:status;size:20;index" json:"status"`
	CreatedAt     time.Time    `gorm:"column:created_at" json:"timestamp"`
	ReceiptPhoto  string       `gorm:"column:receipt_photo;size:300" json:"receipt_photo,omitempty"`
	AdminMessages []MessageRef `gorm:"column:admin_messages;type:text;serializer:json" json:"admin_messages,omitempty"`
	DecidedBy     int64        `gorm:"column:decided_by" json:"decided_by,omitempty"`
	DecidedAt     *time.Time   `gorm:"column:decided_at" json:"decided_at,omitempty"`

	// GroupMessageID is the admin-group message the older bot posted with
	// live decision buttons. It is kept until it can be turned into a
	// MessageRef, which needs the group chat id.
	GroupMessageID int `gorm:"column:admin_message_id" json:"admin_message_id,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Clone returns a deep copy safe to hand out of a locked section.
func (o *Order) Clone() Order {
	out := *o
	if o.Snapshot != nil {
		snap := *o.Snapshot
		out.Snapshot = &snap
	}
	if o.AdminMessages != nil {
		out.AdminMessages = append([]MessageRef(nil), o.AdminMessages...)
	}
	if o.DecidedAt != nil {
		at := *o.DecidedAt
		out.DecidedAt = &at
	}
	return out
}
