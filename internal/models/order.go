package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Platform and action type enums accepted from the order producer.
const (
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
	PlatformYouTube   = "youtube"
	PlatformX         = "x"
	PlatformFacebook  = "facebook"

	ActionLike      = "like"
	ActionFollow    = "follow"
	ActionComment   = "comment"
	ActionShare     = "share"
	ActionSubscribe = "subscribe"
)

// Order is a paid buyer order. The engine never mutates it after insert.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	ServiceType string          `json:"service_type"`
	Platform    string          `json:"platform"`
	ActionType  string          `json:"action_type"`
	TargetURL   string          `json:"target_url"`
	CommentText *string         `json:"comment_text,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OrderPaid is the event emitted by payment capture once an order is settled.
type OrderPaid struct {
	OrderID     uuid.UUID       `json:"order_id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	ServiceType string          `json:"service_type"`
	Platform    string          `json:"platform"`
	ActionType  string          `json:"action_type"`
	TargetURL   string          `json:"target_url"`
	CommentText *string         `json:"comment_text,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Order converts the event into the order row it describes.
func (e OrderPaid) Order() *Order {
	serviceType := e.ServiceType
	if serviceType == "" {
		serviceType = e.Platform + "_" + e.ActionType
	}
	return &Order{
		ID:          e.OrderID,
		BuyerID:     e.BuyerID,
		ServiceType: serviceType,
		Platform:    e.Platform,
		ActionType:  e.ActionType,
		TargetURL:   e.TargetURL,
		CommentText: e.CommentText,
		Quantity:    e.Quantity,
		UnitPrice:   e.UnitPrice,
	}
}
