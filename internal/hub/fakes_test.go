package hub

import (
	"context"
	"sync"
	"time"

	"ShopAssist/server/internal/models"
	"ShopAssist/server/internal/services"
)

type sentEvent struct {
	Event string
	Data  interface{}
}

type fakeConn struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := v.(map[string]interface{})
	f.events = append(f.events, sentEvent{Event: m["event"].(string), Data: m["data"]})
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(event string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Event == event {
			return f.events[i].Data, true
		}
	}
	return nil, false
}

func (f *fakeConn) errorCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var codes []string
	for _, e := range f.events {
		if e.Event == EventError {
			codes = append(codes, e.Data.(map[string]string)["code"])
		}
	}
	return codes
}

type fakeAuthService struct {
	tokens map[string]models.Principal
}

func (f *fakeAuthService) Resolve(creds services.Credentials) (models.Principal, error) {
	if creds.Token != "" {
		if p, ok := f.tokens[creds.Token]; ok {
			return p, nil
		}
		return models.Principal{}, models.ErrUnauthenticated
	}
	if creds.GuestToken != "" {
		return models.Principal{Kind: models.PrincipalGuest, GuestID: creds.GuestToken}, nil
	}
	return models.Principal{}, models.ErrUnauthenticated
}

func (f *fakeAuthService) MintGuestToken() string { return "minted-guest-token" }

type fakeUserService struct {
	users map[int]models.User
}

func (f *fakeUserService) GetUserById(ctx context.Context, id int) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, models.ErrUserNotFound
}

// fakeChatService mimics the storage semantics the hub relies on, including
// the conditional claim update settled under a single lock.
type fakeChatService struct {
	mu     sync.Mutex
	nextID int
	chats  map[int]*models.Chat
}

func newFakeChatService() *fakeChatService {
	return &fakeChatService{chats: make(map[int]*models.Chat)}
}

func (f *fakeChatService) addChat(chat models.Chat) *models.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	chat.ID = f.nextID
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	f.chats[chat.ID] = &chat
	return &chat
}

func (f *fakeChatService) CreateChat(ctx context.Context, principal models.Principal) (*models.Chat, error) {
	chat := models.Chat{Status: models.ChatStatusWaiting}
	switch principal.Kind {
	case models.PrincipalCustomer:
		id := principal.UserID
		chat.UserID = &id
	case models.PrincipalGuest:
		token := principal.GuestID
		chat.GuestID = &token
	default:
		return nil, models.ErrForbidden
	}
	return f.addChat(chat), nil
}

func (f *fakeChatService) GetChatById(ctx context.Context, chatID int) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	copied := *chat
	return &copied, nil
}

func (f *fakeChatService) ListWaiting(ctx context.Context) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chat
	for id := 1; id <= f.nextID; id++ {
		if chat, ok := f.chats[id]; ok && chat.Status == models.ChatStatusWaiting {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (f *fakeChatService) ListActiveForAgent(ctx context.Context, agentID int) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chat
	for id := 1; id <= f.nextID; id++ {
		chat, ok := f.chats[id]
		if !ok || chat.AgentID == nil || *chat.AgentID != agentID {
			continue
		}
		if chat.Status == models.ChatStatusWaiting || chat.Status == models.ChatStatusActive {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (f *fakeChatService) ListForCustomer(ctx context.Context, principal models.Principal) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Chat
	for id := 1; id <= f.nextID; id++ {
		if chat, ok := f.chats[id]; ok && principal.OwnsChat(chat) {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (f *fakeChatService) Claim(ctx context.Context, chatID, agentID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok || chat.Status != models.ChatStatusWaiting {
		return false, nil
	}
	now := time.Now()
	chat.AgentID = &agentID
	chat.Status = models.ChatStatusActive
	chat.ClaimedAt = &now
	return true, nil
}

func (f *fakeChatService) SetStatus(ctx context.Context, chatID int, status models.ChatStatus) (bool, error) {
	if !status.Terminal() {
		return false, models.ErrInvalidState
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return false, models.ErrChatNotFound
	}
	if chat.Status.Terminal() {
		return false, nil
	}
	if chat.Status != models.ChatStatusActive {
		return false, models.ErrInvalidState
	}
	now := time.Now()
	chat.Status = status
	chat.ClosedAt = &now
	return true, nil
}

func (f *fakeChatService) GetChatContext(ctx context.Context, chatID int) (*models.ChatContext, error) {
	chat, err := f.GetChatById(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &models.ChatContext{
		Chat:      *chat,
		Orders:    []models.OrderSummary{},
		CartItems: []models.CartItem{},
		Wishlist:  []models.WishlistItem{},
	}, nil
}

type fakeMessageService struct {
	mu       sync.Mutex
	nextID   int
	messages []models.Message
}

func newFakeMessageService() *fakeMessageService {
	return &fakeMessageService{}
}

func (f *fakeMessageService) SaveMessage(ctx context.Context, chatID int, senderType models.SenderType, senderID *int, content *string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := models.Message{
		ID:          f.nextID,
		ChatID:      chatID,
		SenderType:  senderType,
		SenderID:    senderID,
		Content:     content,
		SentAt:      time.Now(),
		Attachments: []models.Attachment{},
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeMessageService) GetMessagesByChatId(ctx context.Context, chatID int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Message{}
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageService) GetMessageById(ctx context.Context, messageID int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == messageID {
			copied := m
			return &copied, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

func (f *fakeMessageService) MarkMessagesAsRead(ctx context.Context, chatID int, by models.SenderType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	marked := 0
	for i := range f.messages {
		m := &f.messages[i]
		if m.ChatID == chatID && m.SenderType == by.Opposite() && !m.IsRead {
			m.IsRead = true
			marked++
		}
	}
	return marked, nil
}

func newTestHub() (*Hub, *fakeChatService, *fakeMessageService, *roomRegistry) {
	auth := &fakeAuthService{tokens: map[string]models.Principal{}}
	users := &fakeUserService{users: map[int]models.User{}}
	chats := newFakeChatService()
	messages := newFakeMessageService()
	registry := NewRoomRegistry()
	h := NewHub(auth, users, chats, messages, registry)
	return h, chats, messages, registry
}

func newTestClient(registry *roomRegistry, p *models.Principal) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := NewClient(conn)
	if p != nil {
		c.SetPrincipal(*p)
	}
	registry.Register(c)
	return c, conn
}
