package models

import (
	"fmt"
)

type PrincipalKind string

const (
	PrincipalCustomer PrincipalKind = "customer"
	PrincipalGuest    PrincipalKind = "guest"
	PrincipalAgent    PrincipalKind = "agent"
)

// Principal is the resolved identity attached to a connection or request.
// Customers and agents carry a UserID; guests carry only their opaque token.
type Principal struct {
	Kind    PrincipalKind `json:"kind"`
	UserID  int           `json:"user_id,omitempty"`
	GuestID string        `json:"guest_id,omitempty"`
}

func (p Principal) IsAgent() bool {
	return p.Kind == PrincipalAgent
}

// Key is the identity string used for identity-based fan-out. Two sessions
// of the same user or guest share a key regardless of room membership.
func (p Principal) Key() string {
	switch p.Kind {
	case PrincipalGuest:
		return "guest:" + p.GuestID
	case PrincipalAgent:
		return fmt.Sprintf("agent:%d", p.UserID)
	default:
		return fmt.Sprintf("user:%d", p.UserID)
	}
}

// OwnsChat reports whether p is the customer side of the chat.
func (p Principal) OwnsChat(c *Chat) bool {
	switch p.Kind {
	case PrincipalCustomer:
		return c.UserID != nil && *c.UserID == p.UserID
	case PrincipalGuest:
		return c.GuestID != nil && *c.GuestID == p.GuestID
	}
	return false
}
