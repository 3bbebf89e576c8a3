package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"ShopAssist/server/internal/appMiddleware"
	"ShopAssist/server/internal/hub"
	"ShopAssist/server/internal/models"
	"ShopAssist/server/internal/services"
	"ShopAssist/server/internal/storage"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	auth        services.AuthService
	chats       services.ChatService
	messages    services.MessageService
	attachments services.AttachmentService
	files       storage.FileStorage
	hub         *hub.Hub
}

func NewHandlers(
	auth services.AuthService,
	chats services.ChatService,
	messages services.MessageService,
	attachments services.AttachmentService,
	files storage.FileStorage,
	h *hub.Hub,
) *Handlers {
	return &Handlers{
		auth:        auth,
		chats:       chats,
		messages:    messages,
		attachments: attachments,
		files:       files,
		hub:         h,
	}
}

func chatIDParam(r *http.Request) (int, bool) {
	chatID, err := strconv.Atoi(chi.URLParam(r, "chat_id"))
	return chatID, err == nil && chatID > 0
}

// CreateChat opens a new waiting chat for the caller. An anonymous visitor
// with no guest token yet gets one minted here; the client persists it and
// presents it on every later request and reconnect.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	mintedToken := ""
	if !ok {
		mintedToken = h.auth.MintGuestToken()
		principal = models.Principal{Kind: models.PrincipalGuest, GuestID: mintedToken}
	}

	if principal.IsAgent() {
		writeMessage(w, http.StatusForbidden, "Agents cannot open support chats")
		return
	}

	chat, err := h.chats.CreateChat(ctx, principal)
	if err != nil {
		writeError(w, err)
		return
	}

	h.hub.NotifyQueueUpdated(chat.ID)

	resp := map[string]interface{}{"chat": chat}
	if mintedToken != "" {
		resp["guest_token"] = mintedToken
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) ListMyChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	chats, err := h.chats.ListForCustomer(ctx, principal)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

// GetChatMessages serves the request/response history path for participants
// who do not need push semantics.
func (h *Handlers) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	chatID, ok := chatIDParam(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid chat ID")
		return
	}

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	side, err := participantSide(principal, chat)
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.messages.GetMessagesByChatId(ctx, chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.messages.MarkMessagesAsRead(ctx, chatID, side); err != nil {
		log.Printf("Error marking messages read in chat %d: %v", chatID, err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat":     chat,
		"messages": messages,
	})
}

// participantSide resolves which side of the conversation the principal is,
// or ErrForbidden when they are neither the customer nor the claimant agent.
func participantSide(principal models.Principal, chat *models.Chat) (models.SenderType, error) {
	if principal.OwnsChat(chat) {
		return models.SenderCustomer, nil
	}
	if principal.IsAgent() && chat.AgentID != nil && *chat.AgentID == principal.UserID {
		return models.SenderAgent, nil
	}
	return "", models.ErrForbidden
}

func (h *Handlers) SetChatStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	chatID, ok := chatIDParam(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid chat ID")
		return
	}

	var req struct {
		Status models.ChatStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Terminal() {
		writeMessage(w, http.StatusBadRequest, "Status must be resolved or closed")
		return
	}

	chat, err := h.chats.GetChatById(ctx, chatID)
	if err != nil {
		writeError(w, err)
		return
	}

	if !principal.IsAgent() || chat.AgentID == nil || *chat.AgentID != principal.UserID {
		writeMessage(w, http.StatusForbidden, "Only the claimant agent can end a chat")
		return
	}

	changed, err := h.chats.SetStatus(ctx, chatID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	if changed {
		if err := h.hub.NotifyChatEnded(ctx, chatID); err != nil {
			log.Printf("Error broadcasting chat end for chat %d: %v", chatID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"changed": changed})
}

func (h *Handlers) GetWaitingQueue(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.ListWaiting(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (h *Handlers) GetAgentChats(w http.ResponseWriter, r *http.Request) {
	principal, _ := appMiddleware.PrincipalFromContext(r.Context())

	chats, err := h.chats.ListActiveForAgent(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

func (h *Handlers) GetChatContext(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid chat ID")
		return
	}

	chatContext, err := h.chats.GetChatContext(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatContext)
}
