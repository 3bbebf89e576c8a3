package hub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	IntentAuthenticate    = "authenticate"
	IntentCustomerJoin    = "customer:join-chat"
	IntentCustomerMessage = "customer:send-message"
	IntentAgentJoinQueue  = "agent:join-queue"
	IntentAgentClaim      = "agent:claim-chat"
	IntentAgentMessage    = "agent:send-message"
	IntentAgentResolve    = "agent:resolve-chat"
)

// Intent is one decoded client request. Each intent type carries its own
// payload and dispatches to a dedicated hub handler, keeping the state
// machine logic independent of the websocket transport.
type Intent interface {
	Handle(ctx context.Context, h *Hub, c *Client)
}

type AuthenticateIntent struct {
	Token      string `json:"token"`
	GuestToken string `json:"guest_token"`
}

func (i AuthenticateIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.authenticate(ctx, c, i.Token, i.GuestToken)
}

type JoinChatIntent struct {
	ChatID int `json:"chat_id"`
}

func (i JoinChatIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.joinChat(ctx, c, i.ChatID)
}

type SendMessageIntent struct {
	ChatID  int    `json:"chat_id"`
	Content string `json:"content"`
}

func (i SendMessageIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.sendCustomerMessage(ctx, c, i.ChatID, i.Content)
}

type JoinQueueIntent struct{}

func (i JoinQueueIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.joinQueue(ctx, c)
}

type ClaimChatIntent struct {
	ChatID int `json:"chat_id"`
}

func (i ClaimChatIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.claimChat(ctx, c, i.ChatID)
}

type AgentSendMessageIntent struct {
	ChatID  int    `json:"chat_id"`
	Content string `json:"content"`
}

func (i AgentSendMessageIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.sendAgentMessage(ctx, c, i.ChatID, i.Content)
}

type ResolveChatIntent struct {
	ChatID int `json:"chat_id"`
}

func (i ResolveChatIntent) Handle(ctx context.Context, h *Hub, c *Client) {
	h.resolveChat(ctx, c, i.ChatID)
}

// ParseIntent decodes an inbound envelope into its typed intent.
func ParseIntent(event string, data json.RawMessage) (Intent, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch event {
	case IntentAuthenticate:
		var i AuthenticateIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	case IntentCustomerJoin:
		var i JoinChatIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	case IntentCustomerMessage:
		var i SendMessageIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	case IntentAgentJoinQueue:
		return JoinQueueIntent{}, nil
	case IntentAgentClaim:
		var i ClaimChatIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	case IntentAgentMessage:
		var i AgentSendMessageIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	case IntentAgentResolve:
		var i ResolveChatIntent
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, err
		}
		return i, nil
	default:
		return nil, fmt.Errorf("unknown event %q", event)
	}
}
