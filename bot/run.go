package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memorial36b/aaravosbot/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (b *Bot) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	scheduled, expired, err := b.Mutes.Restore(ctx)
	if err != nil {
		cancel()
		log.Fatalf("Error restoring mutes: %v", err)
	}
	log.Printf("Restored mutes: %d scheduled, %d expired", scheduled, expired)

	restored, discarded, err := b.Contact.Restore(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Error restoring contact sessions: %v", err)
	}
	log.Printf("Restored contact sessions: %d active, %d stale offers discarded", restored, discarded)

	b.serveMetrics()

	if err := b.Session.Open(); err != nil {
		log.Fatalf("Error opening connection: %v", err)
	}

	b.scheduler.Start()

	fmt.Println("Bot is now running. Press CTRL-C to exit.")
	utils.LogInfo(b.Chat, b.GetConfig().ModLogChannelID, "System", "Startup", "Bot has started successfully.")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc
}

func (b *Bot) serveMetrics() {
	addr := b.GetConfig().MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	b.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("Serving metrics on %s/metrics", addr)
		if err := b.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
}
