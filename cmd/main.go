package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"ShopAssist/server/internal/appMiddleware"
	"ShopAssist/server/internal/db"
	"ShopAssist/server/internal/handlers"
	"ShopAssist/server/internal/hub"
	"ShopAssist/server/internal/services"
	"ShopAssist/server/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	db.InitDB()
	defer db.Close()
	db.RunMigrations()

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	files, err := storage.NewDiskStorage(uploadDir)
	if err != nil {
		log.Fatalf("Failed to init file storage: %v", err)
	}

	authService := services.NewAuthService()
	userService := services.NewUserService()
	chatService := services.NewChatService(userService)
	messageService := services.NewMessageService()
	attachmentService := services.NewAttachmentService()

	registry := hub.NewRoomRegistry()
	chatHub := hub.NewHub(authService, userService, chatService, messageService, registry)

	h := handlers.NewHandlers(authService, chatService, messageService, attachmentService, files, chatHub)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Guest-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(appMiddleware.Identify(authService))

		r.Post("/chats", h.CreateChat)
		r.Get("/chats", h.ListMyChats)
		r.Get("/chats/{chat_id}/messages", h.GetChatMessages)
		r.Post("/chats/{chat_id}/status", h.SetChatStatus)
		r.Post("/messages/{message_id}/attachments", h.UploadAttachment)
		r.Get("/attachments/{attachment_id}", h.DownloadAttachment)

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.RequireAgent)
			r.Get("/agent/queue", h.GetWaitingQueue)
			r.Get("/agent/chats", h.GetAgentChats)
			r.Get("/chats/{chat_id}/context", h.GetChatContext)
		})
	})

	r.Get("/ws", h.WebSocket)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server started on port :%s\n", port)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %s\n", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Println("Stopping the server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %s\n", err)
	}
	log.Println("Server has been successfully stopped")
}
