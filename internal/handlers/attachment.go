package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"ShopAssist/server/internal/appMiddleware"
	"ShopAssist/server/internal/models"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 32 << 20

// UploadAttachment completes the second, asynchronous half of sending a file:
// the message already exists, the bytes arrive here, and the hub afterwards
// patches every already-rendered copy via message:updated.
func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	messageID, err := strconv.Atoi(chi.URLParam(r, "message_id"))
	if err != nil || messageID <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	msg, err := h.messages.GetMessageById(ctx, messageID)
	if err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.GetChatById(ctx, msg.ChatID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := participantSide(principal, chat); err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	storagePath, size, err := h.files.Save(header.Filename, file)
	if err != nil {
		log.Printf("Error storing uploaded file %s: %v", header.Filename, err)
		writeMessage(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	attachment, err := h.attachments.LinkAttachment(ctx, messageID, models.AttachmentMeta{
		FileName:    header.Filename,
		StoragePath: storagePath,
		MimeType:    mimeType,
		SizeBytes:   size,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.hub.NotifyMessageUpdated(ctx, chat.ID, messageID); err != nil {
		log.Printf("Error broadcasting message update for message %d: %v", messageID, err)
	}

	writeJSON(w, http.StatusCreated, attachment)
}

// DownloadAttachment streams the file back to the chat's customer or its
// claimant agent; everyone else is rejected.
func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := appMiddleware.PrincipalFromContext(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	attachmentID, err := strconv.Atoi(chi.URLParam(r, "attachment_id"))
	if err != nil || attachmentID <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid attachment ID")
		return
	}

	attachment, err := h.attachments.GetAttachmentById(ctx, attachmentID)
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.messages.GetMessageById(ctx, attachment.MessageID)
	if err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.GetChatById(ctx, msg.ChatID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := participantSide(principal, chat); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.files.Open(attachment.StoragePath)
	if err != nil {
		log.Printf("Error opening stored file %s: %v", attachment.StoragePath, err)
		writeMessage(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", attachment.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.FileName))

	if _, err := io.Copy(w, f); err != nil {
		log.Printf("Error streaming attachment %d: %v", attachmentID, err)
	}
}
