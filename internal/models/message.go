package models

import (
	"time"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
)

// Opposite returns the other side of the conversation. Read-state updates
// always target the opposite side's messages.
func (s SenderType) Opposite() SenderType {
	if s == SenderCustomer {
		return SenderAgent
	}
	return SenderCustomer
}

type Message struct {
	ID          int          `json:"id" db:"id"`
	ChatID      int          `json:"chat_id" db:"chat_id"`
	SenderType  SenderType   `json:"sender_type" db:"sender_type"`
	SenderID    *int         `json:"sender_id,omitempty" db:"sender_id"`
	Content     *string      `json:"content,omitempty" db:"content"`
	SentAt      time.Time    `json:"sent_at" db:"sent_at"`
	IsRead      bool         `json:"is_read" db:"is_read"`
	Attachments []Attachment `json:"attachments"`
}
