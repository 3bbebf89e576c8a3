package hub

import (
	"context"
	"errors"
	"log"
	"sync"

	"ShopAssist/server/internal/models"
	"ShopAssist/server/internal/services"
)

// Server-to-client event names.
const (
	EventAuthenticated  = "authenticated"
	EventChatJoined     = "chat:joined"
	EventChatClaimed    = "chat:claimed"
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventQueueChats     = "queue:chats"
	EventQueueUpdate    = "queue:update"
	EventAgentJoined    = "agent:joined"
	EventChatEnded      = "chat:ended"
	EventError          = "error"
)

// Error codes carried in the error event.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeConflict        = "conflict"
	CodeBadRequest      = "bad_request"
	CodeInternal        = "internal"
)

// Hub multiplexes live connections into per-chat rooms plus the agent queue
// room, routes intents to the stores, and fans resulting events back out.
// Events for different chats run concurrently; events for the same chat are
// serialized through a per-chat lock so append order matches arrival order
// and claim/resolve cannot interleave within this process. The claim race
// itself is settled by the store's conditional update, not by this lock.
type Hub struct {
	auth     services.AuthService
	users    services.UserService
	chats    services.ChatService
	messages services.MessageService
	registry Registry

	mu        sync.Mutex
	chatLocks map[int]*sync.Mutex
}

func NewHub(
	auth services.AuthService,
	users services.UserService,
	chats services.ChatService,
	messages services.MessageService,
	registry Registry,
) *Hub {
	return &Hub{
		auth:      auth,
		users:     users,
		chats:     chats,
		messages:  messages,
		registry:  registry,
		chatLocks: make(map[int]*sync.Mutex),
	}
}

func (h *Hub) Register(c *Client) {
	h.registry.Register(c)
}

// Disconnect is fire-and-forget cleanup: drop the connection from every
// in-memory index. Committed store mutations are not rolled back.
func (h *Hub) Disconnect(c *Client) {
	h.registry.Unregister(c)
}

func (h *Hub) lockChat(chatID int) func() {
	h.mu.Lock()
	l, ok := h.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		h.chatLocks[chatID] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (h *Hub) sendError(c *Client, code, message string) {
	if err := c.Send(EventError, map[string]string{"code": code, "message": message}); err != nil {
		log.Printf("Error sending error event: %v", err)
	}
}

// sendStoreError reports a failed store call to the requesting connection
// only, mapping expected outcomes to their codes and hiding internal detail.
func (h *Hub) sendStoreError(c *Client, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		h.sendError(c, CodeUnauthenticated, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		h.sendError(c, CodeForbidden, "not allowed")
	case errors.Is(err, models.ErrChatNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrAttachmentNotFound),
		errors.Is(err, models.ErrUserNotFound):
		h.sendError(c, CodeNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		h.sendError(c, CodeInvalidState, "operation not allowed in current chat state")
	case errors.Is(err, models.ErrChatUnavailable):
		h.sendError(c, CodeConflict, "chat not available or already claimed")
	default:
		log.Printf("Storage error in hub: %v", err)
		h.sendError(c, CodeInternal, "internal error")
	}
}

func (h *Hub) authenticate(ctx context.Context, c *Client, token, guestToken string) {
	principal, err := h.auth.Resolve(services.Credentials{Token: token, GuestToken: guestToken})
	if err != nil {
		h.sendError(c, CodeUnauthenticated, "invalid credentials")
		return
	}

	c.SetPrincipal(principal)
	log.Printf("Connection authenticated as %s", principal.Key())

	if err := c.Send(EventAuthenticated, principal); err != nil {
		log.Printf("Error sending authenticated event: %v", err)
	}
}

// joinChat puts the customer's connection into the chat room and replays the
// full backlog to that connection only, so a late joiner sees everything.
func (h *Hub) joinChat(ctx context.Context, c *Client, chatID int) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}

	unlock := h.lockChat(chatID)
	defer unlock()

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if !p.OwnsChat(chat) {
		h.sendError(c, CodeForbidden, "not your chat")
		return
	}

	h.registry.Join(ChatRoom(chatID), c)

	messages, err := h.messages.GetMessagesByChatId(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	// Opening the backlog counts as reading the agent's messages. Read
	// state is a convenience signal; a failure only gets logged.
	if _, err := h.messages.MarkMessagesAsRead(ctx, chatID, models.SenderCustomer); err != nil {
		log.Printf("Error marking messages read in chat %d: %v", chatID, err)
	}

	if err := c.Send(EventChatJoined, map[string]interface{}{
		"chat":     chat,
		"messages": messages,
	}); err != nil {
		log.Printf("Error sending chat:joined to chat %d customer: %v", chatID, err)
	}
}

func (h *Hub) sendCustomerMessage(ctx context.Context, c *Client, chatID int, content string) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}

	unlock := h.lockChat(chatID)
	defer unlock()

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if !p.OwnsChat(chat) {
		h.sendError(c, CodeForbidden, "not your chat")
		return
	}

	if chat.Status.Terminal() {
		h.sendError(c, CodeInvalidState, "chat has ended")
		return
	}

	var senderID *int
	if p.Kind == models.PrincipalCustomer {
		id := p.UserID
		senderID = &id
	}

	var text *string
	if content != "" {
		text = &content
	}

	msg, err := h.messages.SaveMessage(ctx, chatID, models.SenderCustomer, senderID, text)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	h.registry.Broadcast(ChatRoom(chatID), EventMessageNew, map[string]interface{}{"message": msg})

	// A message into a waiting chat changes what agents should see in the
	// queue; tell them to re-fetch rather than shipping a diff.
	if chat.Status == models.ChatStatusWaiting {
		h.registry.Broadcast(QueueRoom, EventQueueUpdate, map[string]int{"chat_id": chatID})
	}
}

func (h *Hub) joinQueue(ctx context.Context, c *Client) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}
	if !p.IsAgent() {
		h.sendError(c, CodeForbidden, "agents only")
		return
	}

	h.registry.Join(QueueRoom, c)

	waiting, err := h.chats.ListWaiting(ctx)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if err := c.Send(EventQueueChats, map[string]interface{}{"chats": waiting}); err != nil {
		log.Printf("Error sending queue:chats: %v", err)
	}
}

// claimChat races the store's conditional update. Exactly one concurrent
// claimant wins; losers are told the chat is unavailable and nothing else
// happens for them.
func (h *Hub) claimChat(ctx context.Context, c *Client, chatID int) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}
	if !p.IsAgent() {
		h.sendError(c, CodeForbidden, "agents only")
		return
	}

	unlock := h.lockChat(chatID)
	defer unlock()

	claimed, err := h.chats.Claim(ctx, chatID, p.UserID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}
	if !claimed {
		h.sendError(c, CodeConflict, "chat not available or already claimed")
		return
	}

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	// Tell the connections already in the room (the customer) an agent
	// arrived, before the claimant itself joins.
	joined := map[string]interface{}{
		"chat_id":  chatID,
		"agent_id": p.UserID,
	}
	if agent, err := h.users.GetUserById(ctx, p.UserID); err == nil {
		joined["agent_name"] = agent.Name
	}
	h.registry.Broadcast(ChatRoom(chatID), EventAgentJoined, joined)

	h.registry.Join(ChatRoom(chatID), c)

	chatContext, err := h.chats.GetChatContext(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	messages, err := h.messages.GetMessagesByChatId(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if _, err := h.messages.MarkMessagesAsRead(ctx, chatID, models.SenderAgent); err != nil {
		log.Printf("Error marking messages read in chat %d: %v", chatID, err)
	}

	if err := c.Send(EventChatClaimed, map[string]interface{}{
		"chat":     chat,
		"context":  chatContext,
		"messages": messages,
	}); err != nil {
		log.Printf("Error sending chat:claimed to agent %d: %v", p.UserID, err)
	}

	h.registry.Broadcast(QueueRoom, EventQueueUpdate, map[string]int{"chat_id": chatID})
}

func (h *Hub) sendAgentMessage(ctx context.Context, c *Client, chatID int, content string) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}
	if !p.IsAgent() {
		h.sendError(c, CodeForbidden, "agents only")
		return
	}

	unlock := h.lockChat(chatID)
	defer unlock()

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if chat.AgentID == nil || *chat.AgentID != p.UserID {
		h.sendError(c, CodeForbidden, "chat is not claimed by you")
		return
	}

	if !h.registry.InRoom(ChatRoom(chatID), c) {
		h.sendError(c, CodeInvalidState, "not in this chat room")
		return
	}

	if chat.Status != models.ChatStatusActive {
		h.sendError(c, CodeInvalidState, "chat is not active")
		return
	}

	agentID := p.UserID
	var text *string
	if content != "" {
		text = &content
	}

	msg, err := h.messages.SaveMessage(ctx, chatID, models.SenderAgent, &agentID, text)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	h.registry.Broadcast(ChatRoom(chatID), EventMessageNew, map[string]interface{}{"message": msg})
}

func (h *Hub) resolveChat(ctx context.Context, c *Client, chatID int) {
	p := c.Principal()
	if p == nil {
		h.sendError(c, CodeUnauthenticated, "authentication required")
		return
	}
	if !p.IsAgent() {
		h.sendError(c, CodeForbidden, "agents only")
		return
	}

	unlock := h.lockChat(chatID)
	defer unlock()

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	if chat.AgentID == nil || *chat.AgentID != p.UserID {
		h.sendError(c, CodeForbidden, "chat is not claimed by you")
		return
	}

	if !h.registry.InRoom(ChatRoom(chatID), c) {
		h.sendError(c, CodeInvalidState, "not in this chat room")
		return
	}

	changed, err := h.chats.SetStatus(ctx, chatID, models.ChatStatusResolved)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}
	if !changed {
		h.sendError(c, CodeInvalidState, "chat already ended")
		return
	}

	chat, err = h.chats.GetChatById(ctx, chatID)
	if err != nil {
		h.sendStoreError(c, err)
		return
	}

	h.broadcastChatEnded(chat)
}

// broadcastChatEnded delivers the terminal event twice over: once to the
// room, and once to every live connection matching the chat's customer
// identity. Room membership alone is not a reliable channel for a one-shot
// terminal event; a reconnected tab may never have joined the room.
func (h *Hub) broadcastChatEnded(chat *models.Chat) {
	room := ChatRoom(chat.ID)
	data := map[string]interface{}{"chat": chat}

	h.registry.Broadcast(room, EventChatEnded, data)

	for _, c := range h.registry.ByIdentity(chat.CustomerKey()) {
		if h.registry.InRoom(room, c) {
			continue
		}
		if err := c.Send(EventChatEnded, data); err != nil {
			log.Printf("Error delivering chat:ended by identity for chat %d: %v", chat.ID, err)
		}
	}
}

// NotifyMessageUpdated is called out-of-band once an attachment upload has
// been linked, so already-rendered copies of the message get patched.
func (h *Hub) NotifyMessageUpdated(ctx context.Context, chatID, messageID int) error {
	msg, err := h.messages.GetMessageById(ctx, messageID)
	if err != nil {
		return err
	}

	h.registry.Broadcast(ChatRoom(chatID), EventMessageUpdated, map[string]interface{}{"message": msg})
	return nil
}

// NotifyQueueUpdated tells the agent queue room to re-fetch the waiting
// list. The REST create-chat path uses it when a new chat enters the queue.
func (h *Hub) NotifyQueueUpdated(chatID int) {
	h.registry.Broadcast(QueueRoom, EventQueueUpdate, map[string]int{"chat_id": chatID})
}

// NotifyChatEnded lets the REST status endpoint reuse the hub's terminal
// fan-out.
func (h *Hub) NotifyChatEnded(ctx context.Context, chatID int) error {
	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		return err
	}

	h.broadcastChatEnded(chat)
	return nil
}
