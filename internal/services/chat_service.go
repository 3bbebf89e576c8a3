package services

import (
	"context"
	"log"
	"strings"

	"ShopAssist/server/internal/db"
	"ShopAssist/server/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

type ChatService interface {
	CreateChat(ctx context.Context, principal models.Principal) (*models.Chat, error)
	GetChatById(ctx context.Context, chatID int) (*models.Chat, error)
	ListWaiting(ctx context.Context) ([]models.Chat, error)
	ListActiveForAgent(ctx context.Context, agentID int) ([]models.Chat, error)
	ListForCustomer(ctx context.Context, principal models.Principal) ([]models.Chat, error)
	Claim(ctx context.Context, chatID, agentID int) (bool, error)
	SetStatus(ctx context.Context, chatID int, status models.ChatStatus) (bool, error)
	GetChatContext(ctx context.Context, chatID int) (*models.ChatContext, error)
}

type chatService struct {
	UserService UserService
}

func NewChatService(userService UserService) *chatService {
	return &chatService{
		UserService: userService,
	}
}

var chatColumns = []string{"id", "user_id", "guest_id", "agent_id", "status", "created_at", "claimed_at", "closed_at"}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var chat models.Chat
	var userID, agentID pgtype.Int4
	var guestID pgtype.Text
	var claimedAt, closedAt pgtype.Timestamptz

	err := row.Scan(&chat.ID, &userID, &guestID, &agentID, &chat.Status, &chat.CreatedAt, &claimedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	if userID.Status == pgtype.Present {
		v := int(userID.Int)
		chat.UserID = &v
	}
	if guestID.Status == pgtype.Present {
		v := guestID.String
		chat.GuestID = &v
	}
	if agentID.Status == pgtype.Present {
		v := int(agentID.Int)
		chat.AgentID = &v
	}
	if claimedAt.Status == pgtype.Present {
		t := claimedAt.Time
		chat.ClaimedAt = &t
	}
	if closedAt.Status == pgtype.Present {
		t := closedAt.Time
		chat.ClosedAt = &t
	}

	return &chat, nil
}

func (cs *chatService) CreateChat(ctx context.Context, principal models.Principal) (*models.Chat, error) {
	var userID *int
	var guestID *string
	switch principal.Kind {
	case models.PrincipalCustomer:
		id := principal.UserID
		userID = &id
	case models.PrincipalGuest:
		token := principal.GuestID
		guestID = &token
	default:
		return nil, models.ErrForbidden
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Insert("support_chats").
		Columns("user_id", "guest_id", "status").
		Values(userID, guestID, models.ChatStatusWaiting).
		Suffix("RETURNING " + joinColumns(chatColumns))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	log.Printf("Executing SQL: %s, Args: %v", sqlStr, args)

	chat, err := scanChat(db.Pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		log.Printf("Error creating chat: %v", err)
		return nil, err
	}

	log.Printf("Chat created with ID %d", chat.ID)
	return chat, nil
}

func (cs *chatService) GetChatById(ctx context.Context, chatID int) (*models.Chat, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select(chatColumns...).
		From("support_chats").
		Where(squirrel.Eq{"id": chatID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	chat, err := scanChat(db.Pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrChatNotFound
		}
		log.Printf("Error getting chat %d: %v", chatID, err)
		return nil, err
	}

	return chat, nil
}

// ListWaiting returns the agent queue oldest-first, so "next" is deterministic.
func (cs *chatService) ListWaiting(ctx context.Context) ([]models.Chat, error) {
	return cs.listChats(ctx, squirrel.Eq{"status": models.ChatStatusWaiting}, "created_at ASC")
}

// ListActiveForAgent includes waiting chats assigned to the agent defensively,
// so a half-transitioned claim is still visible to its own claimant.
func (cs *chatService) ListActiveForAgent(ctx context.Context, agentID int) ([]models.Chat, error) {
	return cs.listChats(ctx, squirrel.And{
		squirrel.Eq{"agent_id": agentID},
		squirrel.Eq{"status": []models.ChatStatus{models.ChatStatusWaiting, models.ChatStatusActive}},
	}, "created_at ASC")
}

func (cs *chatService) ListForCustomer(ctx context.Context, principal models.Principal) ([]models.Chat, error) {
	switch principal.Kind {
	case models.PrincipalCustomer:
		return cs.listChats(ctx, squirrel.Eq{"user_id": principal.UserID}, "created_at DESC")
	case models.PrincipalGuest:
		return cs.listChats(ctx, squirrel.Eq{"guest_id": principal.GuestID}, "created_at DESC")
	}
	return nil, models.ErrForbidden
}

func (cs *chatService) listChats(ctx context.Context, where squirrel.Sqlizer, orderBy string) ([]models.Chat, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select(chatColumns...).
		From("support_chats").
		Where(where).
		OrderBy(orderBy)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return nil, err
	}

	log.Printf("Executing SQL: %s, Args: %v", sqlStr, args)

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error listing chats: %v", err)
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			log.Printf("Error scanning chat row: %v", err)
			return nil, err
		}
		chats = append(chats, *chat)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return chats, nil
}

// Claim is the one atomic operation in the system: a single conditional
// UPDATE that succeeds for exactly one caller no matter how many agents
// race for the same waiting chat. Losers get false, not an error.
func (cs *chatService) Claim(ctx context.Context, chatID, agentID int) (bool, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("support_chats").
		Set("agent_id", agentID).
		Set("status", models.ChatStatusActive).
		Set("claimed_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{
			"id":     chatID,
			"status": models.ChatStatusWaiting,
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return false, err
	}

	log.Printf("Executing SQL: %s, Args: %v", sqlStr, args)

	res, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error claiming chat %d for agent %d: %v", chatID, agentID, err)
		return false, err
	}

	claimed := res.RowsAffected() > 0
	if claimed {
		log.Printf("Chat %d claimed by agent %d", chatID, agentID)
	} else {
		log.Printf("Chat %d not claimed by agent %d: not waiting", chatID, agentID)
	}
	return claimed, nil
}

// SetStatus transitions an active chat to a terminal status. Calling it on
// an already-terminal chat reports no change without side effects; a waiting
// chat cannot be closed directly.
func (cs *chatService) SetStatus(ctx context.Context, chatID int, status models.ChatStatus) (bool, error) {
	if !status.Terminal() {
		return false, models.ErrInvalidState
	}

	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Update("support_chats").
		Set("status", status).
		Set("closed_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{
			"id":     chatID,
			"status": models.ChatStatusActive,
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Printf("Failed to build SQL query: %v", err)
		return false, err
	}

	res, err := db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error setting status of chat %d: %v", chatID, err)
		return false, err
	}

	if res.RowsAffected() > 0 {
		log.Printf("Chat %d transitioned to %s", chatID, status)
		return true, nil
	}

	chat, err := cs.GetChatById(ctx, chatID)
	if err != nil {
		return false, err
	}
	if chat.Status.Terminal() {
		return false, nil
	}
	return false, models.ErrInvalidState
}

// GetChatContext is a read-only projection used to brief an agent: the chat
// plus the customer's recent orders, cart and wishlist. Guest chats have no
// storefront history to show.
func (cs *chatService) GetChatContext(ctx context.Context, chatID int) (*models.ChatContext, error) {
	chat, err := cs.GetChatById(ctx, chatID)
	if err != nil {
		return nil, err
	}

	chatCtx := &models.ChatContext{
		Chat:      *chat,
		Orders:    []models.OrderSummary{},
		CartItems: []models.CartItem{},
		Wishlist:  []models.WishlistItem{},
	}

	if chat.UserID == nil {
		return chatCtx, nil
	}
	userID := *chat.UserID

	customer, err := cs.UserService.GetUserById(ctx, userID)
	if err != nil && err != models.ErrUserNotFound {
		return nil, err
	}
	chatCtx.Customer = customer

	orders, err := cs.recentOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	chatCtx.Orders = orders

	cart, err := cs.cartItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	chatCtx.CartItems = cart

	wishlist, err := cs.wishlistItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	chatCtx.Wishlist = wishlist

	return chatCtx, nil
}

func (cs *chatService) recentOrders(ctx context.Context, userID int) ([]models.OrderSummary, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("id", "total", "status", "created_at").
		From("orders").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(5)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching orders for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	orders := []models.OrderSummary{}
	for rows.Next() {
		var o models.OrderSummary
		if err := rows.Scan(&o.ID, &o.Total, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (cs *chatService) cartItems(ctx context.Context, userID int) ([]models.CartItem, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("p.id", "p.name", "p.price", "ci.quantity").
		From("cart_items ci").
		Join("products p ON p.id = ci.product_id").
		Where(squirrel.Eq{"ci.user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching cart for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (cs *chatService) wishlistItems(ctx context.Context, userID int) ([]models.WishlistItem, error) {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).
		Select("p.id", "p.name", "p.price").
		From("wishlist_items wi").
		Join("products p ON p.id = wi.product_id").
		Where(squirrel.Eq{"wi.user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Printf("Error fetching wishlist for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var item models.WishlistItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
