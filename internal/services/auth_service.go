package services

import (
	"errors"
	"log"
	"os"

	"ShopAssist/server/internal/models"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Credentials are what a connection or request presents at authentication
// time: a signed session token for customers/agents, or the opaque
// client-persisted token of an anonymous guest.
type Credentials struct {
	Token      string `json:"token"`
	GuestToken string `json:"guest_token"`
}

type AuthService interface {
	Resolve(creds Credentials) (models.Principal, error)
	MintGuestToken() string
}

type authService struct {
	jwtSecret []byte
}

func NewAuthService() *authService {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "secret-key"
	}
	return &authService{jwtSecret: []byte(secret)}
}

func NewAuthServiceWithSecret(secret []byte) *authService {
	return &authService{jwtSecret: secret}
}

// Resolve is a pure lookup: no side effects, safe to call on every new
// connection and again on reconnect. A guest token is accepted as-is;
// whoever presents it owns it.
func (as *authService) Resolve(creds Credentials) (models.Principal, error) {
	if creds.Token != "" {
		return as.resolveToken(creds.Token)
	}

	if creds.GuestToken != "" {
		return models.Principal{
			Kind:    models.PrincipalGuest,
			GuestID: creds.GuestToken,
		}, nil
	}

	return models.Principal{}, models.ErrUnauthenticated
}

func (as *authService) resolveToken(tokenStr string) (models.Principal, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return as.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		log.Printf("Invalid session token: %v", err)
		return models.Principal{}, models.ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["user_id"] == nil {
		log.Println("Invalid claims in token")
		return models.Principal{}, models.ErrUnauthenticated
	}

	idClaim, ok := claims["user_id"].(float64)
	if !ok {
		log.Println("Invalid user_id claim in token")
		return models.Principal{}, models.ErrUnauthenticated
	}
	userID := int(idClaim)

	kind := models.PrincipalCustomer
	if role, ok := claims["role"].(string); ok && role == "agent" {
		kind = models.PrincipalAgent
	}

	return models.Principal{Kind: kind, UserID: userID}, nil
}

// MintGuestToken produces a fresh guest identifier for an anonymous visitor
// arriving with no token of their own. The client persists it.
func (as *authService) MintGuestToken() string {
	return uuid.NewString()
}
