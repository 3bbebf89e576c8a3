package models

import (
	"time"
)

type ChatStatus string

const (
	ChatStatusWaiting  ChatStatus = "waiting"
	ChatStatusActive   ChatStatus = "active"
	ChatStatusResolved ChatStatus = "resolved"
	ChatStatusClosed   ChatStatus = "closed"
)

// Terminal reports whether no further transitions are allowed.
func (s ChatStatus) Terminal() bool {
	return s == ChatStatusResolved || s == ChatStatusClosed
}

type Chat struct {
	ID        int        `json:"id" db:"id"`
	UserID    *int       `json:"user_id,omitempty" db:"user_id"`
	GuestID   *string    `json:"guest_id,omitempty" db:"guest_id"`
	AgentID   *int       `json:"agent_id,omitempty" db:"agent_id"`
	Status    ChatStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// CustomerKey is the identity key of the chat's customer side. It matches
// Principal.Key for the owning logged-in customer or guest.
func (c *Chat) CustomerKey() string {
	if c.UserID != nil {
		return Principal{Kind: PrincipalCustomer, UserID: *c.UserID}.Key()
	}
	if c.GuestID != nil {
		return Principal{Kind: PrincipalGuest, GuestID: *c.GuestID}.Key()
	}
	return ""
}

// ChatContext is the read-only briefing an agent sees before answering:
// the chat plus the customer's recent storefront activity.
type ChatContext struct {
	Chat      Chat           `json:"chat"`
	Customer  *User          `json:"customer,omitempty"`
	Orders    []OrderSummary `json:"orders"`
	CartItems []CartItem     `json:"cart_items"`
	Wishlist  []WishlistItem `json:"wishlist"`
}
