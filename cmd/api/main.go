package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"hireline/auth"
	"hireline/chat"
	"hireline/config"
	"hireline/credit"
	"hireline/db"
	"hireline/notify"
	"hireline/order"
	"hireline/outbox"
	"hireline/proposal"
	"hireline/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	pricing := credit.NewPricing(cfg.Credits.RefundPercent)
	ledger := credit.NewLedger(pool)
	writer := outbox.NewWriter()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)

	bids := proposal.NewRepository(pool)
	proposalSvc := proposal.NewService(pool, bids, ledger, writer, pricing)

	chats := chat.NewRepository(pool)
	chatSvc := chat.NewService(pool, chats, writer, chat.ContainsPhoneNumber)

	orderSvc := order.NewService(pool, order.NewRepository(pool), bids, ledger, chats, chatSvc, writer, pricing)

	tokens := notify.NewTokenRepository(pool)

	sinks := buildSinks(ctx, cfg, pool, tokens)
	dispatcher := outbox.NewDispatcher(pool, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, sinks...)
	go dispatcher.Run(ctx)

	api := server.New(authSvc, orderSvc, proposalSvc, bids, chatSvc, ledger, tokens)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildSinks assembles the delivery sinks the dispatcher fans events out to.
// Redis and Firebase are optional: when unconfigured or unreachable the API
// still runs, just without that channel. Email always rides along, log-only
// until a real provider is configured.
func buildSinks(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, tokens *notify.TokenRepository) []outbox.Sink {
	sinks := []outbox.Sink{
		notify.NewEmailSink(notify.LogEmailSender{}, notify.NewDirectory(pool)),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, realtime broadcast disabled: %v", err)
		} else {
			sinks = append(sinks, notify.NewBroadcastSink(rdb))
		}
	}

	if path := cfg.Firebase.CredentialsPath; path != "" {
		if _, err := os.Stat(path); err != nil {
			log.Printf("firebase credentials not readable, push disabled: %v", err)
		} else if client, err := notify.NewMessagingClient(ctx, path); err != nil {
			log.Printf("firebase init failed, push disabled: %v", err)
		} else {
			sinks = append(sinks, notify.NewPushSink(client, tokens))
		}
	}

	return sinks
}
