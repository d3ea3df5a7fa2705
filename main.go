package main

import (
	"log"
	"os"

	"github.com/memorial36b/aaravosbot/bot"
	"github.com/memorial36b/aaravosbot/config"
	"github.com/memorial36b/aaravosbot/handlers"
	"github.com/memorial36b/aaravosbot/utils/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataPath, os.ModePerm); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := database.Open(config.DatabasePath(cfg))
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer store.Close()

	b, err := bot.New(cfg, store)
	if err != nil {
		log.Fatalf("Error creating bot: %v", err)
	}

	handlers.Register(b)

	b.Run()

	b.Close()
}
