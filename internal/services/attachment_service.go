package services

import (
	"context"
	"errors"
	"log"

	"ShopAssist/server/internal/db"
	"ShopAssist/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

type AttachmentService interface {
	LinkAttachment(ctx context.Context, messageID int, meta models.AttachmentMeta) (*models.Attachment, error)
	GetAttachmentById(ctx context.Context, attachmentID int) (*models.Attachment, error)
	GetAttachmentsByMessageId(ctx context.Context, messageID int) ([]models.Attachment, error)
}

type attachmentService struct{}

func NewAttachmentService() *attachmentService {
	return &attachmentService{}
}

// LinkAttachment binds an uploaded file to its owning message. The message
// must already exist; linking against a garbage message id fails with
// ErrMessageNotFound and creates no row.
func (as *attachmentService) LinkAttachment(ctx context.Context, messageID int, meta models.AttachmentMeta) (*models.Attachment, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)", messageID).Scan(&exists)
	if err != nil {
		log.Printf("Error checking message %d: %v", messageID, err)
		return nil, err
	}
	if !exists {
		return nil, models.ErrMessageNotFound
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("message_attachments").
		Columns("message_id", "file_name", "storage_path", "mime_type", "size_bytes").
		Values(messageID, meta.FileName, meta.StoragePath, meta.MimeType, meta.SizeBytes).
		Suffix("RETURNING id, message_id, file_name, storage_path, mime_type, size_bytes, created_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	log.Printf("Executing SQL: %s, Args: %v", sqlStr, args)

	var a models.Attachment
	err = db.Pool.QueryRow(ctx, sqlStr, args...).
		Scan(&a.ID, &a.MessageID, &a.FileName, &a.StoragePath, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		// The existence check can race with a message purge; the FK keeps
		// the store consistent either way.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, models.ErrMessageNotFound
		}
		log.Printf("Error linking attachment to message %d: %v", messageID, err)
		return nil, err
	}

	log.Printf("Attachment %d linked to message %d (%s, %d bytes)", a.ID, messageID, a.FileName, a.SizeBytes)
	return &a, nil
}

func (as *attachmentService) GetAttachmentById(ctx context.Context, attachmentID int) (*models.Attachment, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "message_id", "file_name", "storage_path", "mime_type", "size_bytes", "created_at").
		From("message_attachments").
		Where(squirrel.Eq{"id": attachmentID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	var a models.Attachment
	err = db.Pool.QueryRow(ctx, sqlStr, args...).
		Scan(&a.ID, &a.MessageID, &a.FileName, &a.StoragePath, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrAttachmentNotFound
		}
		log.Printf("Error fetching attachment %d: %v", attachmentID, err)
		return nil, err
	}

	return &a, nil
}

func (as *attachmentService) GetAttachmentsByMessageId(ctx context.Context, messageID int) ([]models.Attachment, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "message_id", "file_name", "storage_path", "mime_type", "size_bytes", "created_at").
		From("message_attachments").
		Where(squirrel.Eq{"message_id": messageID}).
		OrderBy("created_at ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching attachments for message %d: %v", messageID, err)
		return nil, err
	}
	defer rows.Close()

	attachments := []models.Attachment{}
	for rows.Next() {
		var a models.Attachment
		err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.StoragePath, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
