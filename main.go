package main

import (
	"context"
	"log"
	"os"
	"time"

	"supportchat/internal/ai"
	"supportchat/internal/api"
	"supportchat/internal/auth"
	"supportchat/internal/config"
	"supportchat/internal/redis"
	"supportchat/internal/service/chat"
	"supportchat/internal/service/responder"
	"supportchat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("SUPPORTCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("SUPPORTCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, messages, user_tokens
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Session cache is optional; the token table remains the source of truth.
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, session cache disabled: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// Missing provider API key kills the process here, before any request.
	completion, err := ai.NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatalf("init completion client: %v", err)
	}

	chatService := chat.NewService(db, responder.New(completion))

	sessionTTL := time.Duration(cfg.BasicConfig.SessionTTLHours) * time.Hour
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	authService := auth.NewService(db, rdb, sessionTTL)

	handlers := api.NewHandler(chatService, authService)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
