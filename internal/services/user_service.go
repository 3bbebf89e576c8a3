package services

import (
	"context"
	"log"

	"ShopAssist/server/internal/db"
	"ShopAssist/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
)

type UserService interface {
	GetUserById(ctx context.Context, id int) (*models.User, error)
}

type userService struct{}

func NewUserService() *userService {
	return &userService{}
}

func (us *userService) GetUserById(ctx context.Context, id int) (*models.User, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "name", "email", "role", "created_at").
		From("users").
		Where(squirrel.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	var user models.User
	err = db.Pool.QueryRow(ctx, sqlStr, args...).
		Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrUserNotFound
		}
		log.Printf("Error fetching user %d: %v", id, err)
		return nil, err
	}

	return &user, nil
}
