package services

import (
	"context"
	"log"

	"ShopAssist/server/internal/db"
	"ShopAssist/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type MessageService interface {
	SaveMessage(ctx context.Context, chatID int, senderType models.SenderType, senderID *int, content *string) (*models.Message, error)
	GetMessagesByChatId(ctx context.Context, chatID int) ([]models.Message, error)
	GetMessageById(ctx context.Context, messageID int) (*models.Message, error)
	MarkMessagesAsRead(ctx context.Context, chatID int, by models.SenderType) (int, error)
}

type messageService struct{}

func NewMessageService() *messageService {
	return &messageService{}
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var senderID pgtype.Int4
	var content pgtype.Text

	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderType, &senderID, &content, &msg.SentAt, &msg.IsRead)
	if err != nil {
		return nil, err
	}

	if senderID.Status == pgtype.Present {
		v := int(senderID.Int)
		msg.SenderID = &v
	}
	if content.Status == pgtype.Present {
		v := content.String
		msg.Content = &v
	}

	msg.Attachments = []models.Attachment{}
	return &msg, nil
}

// SaveMessage is a pure insert. Ordering within a chat is the hub's job:
// it serializes same-chat handling, so sent_at follows arrival order.
func (ms *messageService) SaveMessage(ctx context.Context, chatID int, senderType models.SenderType, senderID *int, content *string) (*models.Message, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("chat_messages").
		Columns("chat_id", "sender_type", "sender_id", "content", "sent_at").
		Values(chatID, senderType, senderID, content, squirrel.Expr("NOW()")).
		Suffix("RETURNING id, chat_id, sender_type, sender_id, content, sent_at, is_read")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	log.Printf("Executing SQL: %s, Args: %v", sqlStr, args)

	msg, err := scanMessage(db.Pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		log.Printf("Error saving message for chat %d: %v", chatID, err)
		return nil, err
	}

	log.Printf("Message saved: chat %d, sender %s, message ID %d", chatID, senderType, msg.ID)
	return msg, nil
}

// GetMessagesByChatId returns the chat's full log oldest-first, each message
// hydrated with its attachments.
func (ms *messageService) GetMessagesByChatId(ctx context.Context, chatID int) ([]models.Message, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "chat_id", "sender_type", "sender_id", "content", "sent_at", "is_read").
		From("chat_messages").
		Where(squirrel.Eq{"chat_id": chatID}).
		OrderBy("sent_at ASC", "id ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching messages for chat %d: %v", chatID, err)
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			log.Printf("Error scanning message row: %v", err)
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := ms.hydrateAttachments(ctx, messages); err != nil {
		return nil, err
	}

	log.Printf("Fetched %d messages for chat %d", len(messages), chatID)
	return messages, nil
}

func (ms *messageService) GetMessageById(ctx context.Context, messageID int) (*models.Message, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "chat_id", "sender_type", "sender_id", "content", "sent_at", "is_read").
		From("chat_messages").
		Where(squirrel.Eq{"id": messageID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	msg, err := scanMessage(db.Pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrMessageNotFound
		}
		log.Printf("Error fetching message %d: %v", messageID, err)
		return nil, err
	}

	single := []models.Message{*msg}
	if err := ms.hydrateAttachments(ctx, single); err != nil {
		return nil, err
	}
	return &single[0], nil
}

func (ms *messageService) hydrateAttachments(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int, 0, len(messages))
	byID := make(map[int]*models.Message, len(messages))
	for i := range messages {
		ids = append(ids, messages[i].ID)
		byID[messages[i].ID] = &messages[i]
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "message_id", "file_name", "storage_path", "mime_type", "size_bytes", "created_at").
		From("message_attachments").
		Where(squirrel.Eq{"message_id": ids}).
		OrderBy("created_at ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching attachments: %v", err)
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Attachment
		err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.StoragePath, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
		if err != nil {
			return err
		}
		if msg, ok := byID[a.MessageID]; ok {
			msg.Attachments = append(msg.Attachments, a)
		}
	}
	return rows.Err()
}

// MarkMessagesAsRead marks the OPPOSITE side's messages as read: the agent
// opening a chat marks the customer's messages, and vice versa. Returns the
// number of rows changed.
func (ms *messageService) MarkMessagesAsRead(ctx context.Context, chatID int, by models.SenderType) (int, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("chat_messages").
		Set("is_read", true).
		Where(squirrel.Eq{
			"chat_id":     chatID,
			"sender_type": by.Opposite(),
			"is_read":     false,
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return 0, err
	}

	res, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error marking messages as read in chat %d: %v", chatID, err)
		return 0, err
	}

	marked := int(res.RowsAffected())
	if marked > 0 {
		log.Printf("Marked %d messages as read in chat %d for %s", marked, chatID, by)
	}
	return marked, nil
}
