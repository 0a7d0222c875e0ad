// Command createadmin inserts an administrator account directly into the
// store. The admin flag is never settable over HTTP, so this is the only way
// to grant it.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"supportchat/internal/config"
	"supportchat/internal/service/chat"
	"supportchat/internal/storage"
)

func main() {
	var (
		username = flag.String("username", "", "admin username")
		email    = flag.String("email", "", "admin email")
		password = flag.String("password", "", "admin password")
	)
	flag.Parse()
	if *username == "" || *email == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfgPath := os.Getenv("SUPPORTCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("SUPPORTCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	svc := chat.NewService(db, nil)
	user, err := svc.CreateAdmin(context.Background(), *username, *email, *password)
	if err != nil {
		if errors.Is(err, chat.ErrUserExists) {
			log.Fatalf("a user with that username or email already exists")
		}
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("admin user %q (id %d) created", user.Username, user.ID)
}
