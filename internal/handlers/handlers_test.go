package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ShopAssist/server/internal/appMiddleware"
	"ShopAssist/server/internal/hub"
	"ShopAssist/server/internal/models"
	"ShopAssist/server/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	minted int
}

func (f *fakeAuth) Resolve(creds services.Credentials) (models.Principal, error) {
	if creds.GuestToken != "" {
		return models.Principal{Kind: models.PrincipalGuest, GuestID: creds.GuestToken}, nil
	}
	return models.Principal{}, models.ErrUnauthenticated
}

func (f *fakeAuth) MintGuestToken() string {
	f.minted++
	return fmt.Sprintf("minted-%d", f.minted)
}

type fakeUsers struct{}

func (f *fakeUsers) GetUserById(ctx context.Context, id int) (*models.User, error) {
	return nil, models.ErrUserNotFound
}

type fakeChats struct {
	mu     sync.Mutex
	nextID int
	chats  map[int]*models.Chat
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: make(map[int]*models.Chat)}
}

func (f *fakeChats) add(chat models.Chat) *models.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	chat.ID = f.nextID
	chat.CreatedAt = time.Now()
	f.chats[chat.ID] = &chat
	return &chat
}

func (f *fakeChats) CreateChat(ctx context.Context, principal models.Principal) (*models.Chat, error) {
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
	return f.add(chat), nil
}

func (f *fakeChats) GetChatById(ctx context.Context, chatID int) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	copied := *chat
	return &copied, nil
}

func (f *fakeChats) ListWaiting(ctx context.Context) ([]models.Chat, error) {
	return nil, nil
}

func (f *fakeChats) ListActiveForAgent(ctx context.Context, agentID int) ([]models.Chat, error) {
	return nil, nil
}

func (f *fakeChats) ListForCustomer(ctx context.Context, principal models.Principal) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Chat{}
	for _, chat := range f.chats {
		if principal.OwnsChat(chat) {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (f *fakeChats) Claim(ctx context.Context, chatID, agentID int) (bool, error) {
	return false, nil
}

func (f *fakeChats) SetStatus(ctx context.Context, chatID int, status models.ChatStatus) (bool, error) {
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

func (f *fakeChats) GetChatContext(ctx context.Context, chatID int) (*models.ChatContext, error) {
	chat, err := f.GetChatById(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &models.ChatContext{Chat: *chat}, nil
}

type fakeMessages struct {
	mu       sync.Mutex
	messages map[int]*models.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{messages: make(map[int]*models.Message)}
}

func (f *fakeMessages) add(msg models.Message) *models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID] = &msg
	return &msg
}

func (f *fakeMessages) SaveMessage(ctx context.Context, chatID int, senderType models.SenderType, senderID *int, content *string) (*models.Message, error) {
	return nil, models.ErrChatNotFound
}

func (f *fakeMessages) GetMessagesByChatId(ctx context.Context, chatID int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Message{}
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMessages) GetMessageById(ctx context.Context, messageID int) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessages) MarkMessagesAsRead(ctx context.Context, chatID int, by models.SenderType) (int, error) {
	return 0, nil
}

type fakeAttachments struct {
	mu          sync.Mutex
	linked      int
	attachments map[int]*models.Attachment
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{attachments: make(map[int]*models.Attachment)}
}

func (f *fakeAttachments) LinkAttachment(ctx context.Context, messageID int, meta models.AttachmentMeta) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked++
	a := &models.Attachment{
		ID:          f.linked,
		MessageID:   messageID,
		FileName:    meta.FileName,
		StoragePath: meta.StoragePath,
		MimeType:    meta.MimeType,
		SizeBytes:   meta.SizeBytes,
		CreatedAt:   time.Now(),
	}
	f.attachments[a.ID] = a
	return a, nil
}

func (f *fakeAttachments) GetAttachmentById(ctx context.Context, attachmentID int) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attachments[attachmentID]
	if !ok {
		return nil, models.ErrAttachmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAttachments) GetAttachmentsByMessageId(ctx context.Context, messageID int) ([]models.Attachment, error) {
	return nil, nil
}

type fakeFiles struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{blobs: make(map[string][]byte)}
}

func (f *fakeFiles) Save(fileName string, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("blob-%d", len(f.blobs)+1)
	f.blobs[path] = data
	return path, int64(len(data)), nil
}

func (f *fakeFiles) Open(storagePath string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[storagePath]
	if !ok {
		return nil, fmt.Errorf("no blob %s", storagePath)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type testEnv struct {
	handlers    *Handlers
	auth        *fakeAuth
	chats       *fakeChats
	messages    *fakeMessages
	attachments *fakeAttachments
	files       *fakeFiles
	registry    hub.Registry
}

func newTestEnv() *testEnv {
	auth := &fakeAuth{}
	chats := newFakeChats()
	messages := newFakeMessages()
	attachments := newFakeAttachments()
	files := newFakeFiles()

	registry := hub.NewRoomRegistry()
	chatHub := hub.NewHub(auth, &fakeUsers{}, chats, messages, registry)

	return &testEnv{
		handlers:    NewHandlers(auth, chats, messages, attachments, files, chatHub),
		auth:        auth,
		chats:       chats,
		messages:    messages,
		attachments: attachments,
		files:       files,
		registry:    registry,
	}
}

// recordingConn satisfies the hub client's connection contract so tests can
// watch live events pushed by REST-triggered notifications.
type recordingConn struct {
	mu     sync.Mutex
	writes []interface{}
}

func (rc *recordingConn) WriteJSON(v interface{}) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.writes = append(rc.writes, v)
	return nil
}

func (rc *recordingConn) Close() error { return nil }

func (rc *recordingConn) received(event string) (interface{}, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, w := range rc.writes {
		if m, ok := w.(map[string]interface{}); ok && m["event"] == event {
			return m["data"], true
		}
	}
	return nil, false
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withPrincipal(r *http.Request, p models.Principal) *http.Request {
	return r.WithContext(appMiddleware.WithPrincipal(r.Context(), p))
}

func TestCreateChatMintsGuestToken(t *testing.T) {
	env := newTestEnv()

	agentConn := &recordingConn{}
	agent := hub.NewClient(agentConn)
	env.registry.Register(agent)
	env.registry.Join(hub.QueueRoom, agent)

	req := httptest.NewRequest(http.MethodPost, "/api/chats", nil)
	rec := httptest.NewRecorder()
	env.handlers.CreateChat(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Chat       models.Chat `json:"chat"`
		GuestToken string      `json:"guest_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "minted-1", resp.GuestToken)
	assert.Equal(t, models.ChatStatusWaiting, resp.Chat.Status)
	require.NotNil(t, resp.Chat.GuestID)
	assert.Equal(t, "minted-1", *resp.Chat.GuestID)
	assert.Nil(t, resp.Chat.UserID)
	assert.Nil(t, resp.Chat.AgentID)

	_, ok := agentConn.received("queue:update")
	assert.True(t, ok, "agents watching the queue hear about the new chat")
}

func TestCreateChatKeepsExistingGuestIdentity(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/chats", nil)
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalGuest, GuestID: "returning-guest"})
	rec := httptest.NewRecorder()
	env.handlers.CreateChat(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Chat       models.Chat `json:"chat"`
		GuestToken string      `json:"guest_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Empty(t, resp.GuestToken, "no new token for a returning guest")
	require.NotNil(t, resp.Chat.GuestID)
	assert.Equal(t, "returning-guest", *resp.Chat.GuestID)
}

func TestCreateChatRejectsAgents(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodPost, "/api/chats", nil)
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalAgent, UserID: 2})
	rec := httptest.NewRecorder()
	env.handlers.CreateChat(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func multipartBody(t *testing.T, fieldName, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = io.Copy(fw, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadAttachmentToMissingMessage(t *testing.T) {
	env := newTestEnv()

	body, contentType := multipartBody(t, "file", "invoice.pdf", "%PDF-fake")
	req := httptest.NewRequest(http.MethodPost, "/api/messages/99/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = withURLParam(req, "message_id", "99")
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalGuest, GuestID: "g1"})

	rec := httptest.NewRecorder()
	env.handlers.UploadAttachment(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, env.attachments.linked, "nothing may be linked for a garbage message id")
}

func TestUploadAttachmentLinksAndPatches(t *testing.T) {
	env := newTestEnv()

	guest := "g1"
	chat := env.chats.add(models.Chat{GuestID: &guest, Status: models.ChatStatusWaiting})
	hello := "Hello"
	env.messages.add(models.Message{ID: 1, ChatID: chat.ID, SenderType: models.SenderCustomer, Content: &hello})

	// A session already viewing the chat should get the patched message pushed.
	watcherConn := &recordingConn{}
	watcher := hub.NewClient(watcherConn)
	env.registry.Register(watcher)
	env.registry.Join(hub.ChatRoom(chat.ID), watcher)

	body, contentType := multipartBody(t, "file", "invoice.pdf", "%PDF-fake")
	req := httptest.NewRequest(http.MethodPost, "/api/messages/1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = withURLParam(req, "message_id", "1")
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalGuest, GuestID: guest})

	rec := httptest.NewRecorder()
	env.handlers.UploadAttachment(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var attachment models.Attachment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&attachment))
	assert.Equal(t, 1, attachment.MessageID)
	assert.Equal(t, "invoice.pdf", attachment.FileName)
	assert.Equal(t, int64(len("%PDF-fake")), attachment.SizeBytes)
	assert.Equal(t, 1, env.attachments.linked)

	_, ok := watcherConn.received("message:updated")
	assert.True(t, ok, "room members get the message patched via message:updated")
}

func TestUploadAttachmentForbiddenForStrangers(t *testing.T) {
	env := newTestEnv()

	guest := "owner-guest"
	chat := env.chats.add(models.Chat{GuestID: &guest, Status: models.ChatStatusWaiting})
	hello := "Hello"
	env.messages.add(models.Message{ID: 1, ChatID: chat.ID, SenderType: models.SenderCustomer, Content: &hello})

	body, contentType := multipartBody(t, "file", "invoice.pdf", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/messages/1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = withURLParam(req, "message_id", "1")
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalGuest, GuestID: "someone-else"})

	rec := httptest.NewRecorder()
	env.handlers.UploadAttachment(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.attachments.linked)
}

func TestDownloadAttachmentPermissionChecked(t *testing.T) {
	env := newTestEnv()

	guest := "owner-guest"
	agentID := 4
	chat := env.chats.add(models.Chat{GuestID: &guest, AgentID: &agentID, Status: models.ChatStatusActive})
	env.messages.add(models.Message{ID: 1, ChatID: chat.ID, SenderType: models.SenderCustomer})

	path, size, err := env.files.Save("invoice.pdf", strings.NewReader("%PDF-fake"))
	require.NoError(t, err)
	attachment, err := env.attachments.LinkAttachment(context.Background(), 1, models.AttachmentMeta{
		FileName:    "invoice.pdf",
		StoragePath: path,
		MimeType:    "application/pdf",
		SizeBytes:   size,
	})
	require.NoError(t, err)

	download := func(p models.Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/attachments/1", nil)
		req = withURLParam(req, "attachment_id", fmt.Sprint(attachment.ID))
		req = withPrincipal(req, p)
		rec := httptest.NewRecorder()
		env.handlers.DownloadAttachment(rec, req)
		return rec
	}

	rec := download(models.Principal{Kind: models.PrincipalGuest, GuestID: guest})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-fake", rec.Body.String())

	rec = download(models.Principal{Kind: models.PrincipalAgent, UserID: agentID})
	assert.Equal(t, http.StatusOK, rec.Code, "claimant agent may download")

	rec = download(models.Principal{Kind: models.PrincipalGuest, GuestID: "stranger"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = download(models.Principal{Kind: models.PrincipalAgent, UserID: 99})
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-claimant agent is rejected")
}

func TestSetChatStatusRequiresClaimant(t *testing.T) {
	env := newTestEnv()

	guest := "g-status"
	agentID := 4
	chat := env.chats.add(models.Chat{GuestID: &guest, AgentID: &agentID, Status: models.ChatStatusActive})

	setStatus := func(p models.Principal, status string) *httptest.ResponseRecorder {
		body := strings.NewReader(fmt.Sprintf(`{"status": %q}`, status))
		req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/chats/%d/status", chat.ID), body)
		req = withURLParam(req, "chat_id", fmt.Sprint(chat.ID))
		req = withPrincipal(req, p)
		rec := httptest.NewRecorder()
		env.handlers.SetChatStatus(rec, req)
		return rec
	}

	rec := setStatus(models.Principal{Kind: models.PrincipalAgent, UserID: 99}, "closed")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = setStatus(models.Principal{Kind: models.PrincipalAgent, UserID: agentID}, "waiting")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "only terminal statuses accepted")

	rec = setStatus(models.Principal{Kind: models.PrincipalAgent, UserID: agentID}, "closed")
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := env.chats.GetChatById(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChatStatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)

	// Repeating the call is idempotent and reported as a no-op.
	rec = setStatus(models.Principal{Kind: models.PrincipalAgent, UserID: agentID}, "closed")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Changed bool `json:"changed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Changed)
}

func TestListMyChatsRequiresIdentity(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	rec := httptest.NewRecorder()
	env.handlers.ListMyChats(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	guest := "g-list"
	env.chats.add(models.Chat{GuestID: &guest, Status: models.ChatStatusWaiting})

	req = httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req = withPrincipal(req, models.Principal{Kind: models.PrincipalGuest, GuestID: guest})
	rec = httptest.NewRecorder()
	env.handlers.ListMyChats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chats []models.Chat `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Chats, 1)
}
