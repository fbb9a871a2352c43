package main // Entry point for the seat-sync engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-sync/internal/auth"
	"github.com/iliyamo/seat-sync/internal/channel"
	"github.com/iliyamo/seat-sync/internal/config"
	"github.com/iliyamo/seat-sync/internal/coordinator"
	"github.com/iliyamo/seat-sync/internal/crosstab"
	"github.com/iliyamo/seat-sync/internal/gateway"
	"github.com/iliyamo/seat-sync/internal/handler"
	"github.com/iliyamo/seat-sync/internal/queue"
	"github.com/iliyamo/seat-sync/internal/router"
	"github.com/iliyamo/seat-sync/internal/session"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly

	cfg := config.Load()
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unreachable; push channel and cross-context sync disabled")
	}

	// Credential for the authoritative store.  Deployments hand the
	// engine a token; dev environments mint one from the shared secret.
	var creds auth.Credentials
	var err error
	if cfg.ChannelToken != "" {
		creds, err = auth.FromToken(cfg.ChannelToken)
		if err != nil {
			log.Fatalf("CHANNEL_TOKEN: %v", err)
		}
	} else {
		if cfg.UserID == "" {
			log.Fatal("set CHANNEL_TOKEN, or USER_ID for a locally minted dev token")
		}
		creds, err = auth.Mint(cfg.JWTSecret, cfg.UserID, 12*time.Hour)
		if err != nil {
			log.Fatalf("mint dev token: %v", err)
		}
	}
	userID := creds.UserID
	if userID == "" {
		userID = cfg.UserID
	}

	store := buildStore(cfg, rdb, userID)

	sessionID := uuid.NewString()
	mgr := channel.New(rdb, sessionID, channel.Options{
		Heartbeat:      cfg.HeartbeatInterval,
		CommandTimeout: cfg.CommandTimeout,
		BackoffInitial: cfg.ReconnectInitial,
		BackoffMax:     cfg.ReconnectMax,
	})
	gw := gateway.New(cfg.GatewayBaseURL, creds.Token)

	coord, err := coordinator.New(coordinator.Options{
		UserID:          userID,
		SessionID:       sessionID,
		HoldTTL:         cfg.HoldTTL,
		GraceWindow:     cfg.GraceWindow,
		RefreshInterval: cfg.RefreshInterval,
		Channel:         mgr,
		Fallback:        gw,
		Store:           store,
	})
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	tabs := crosstab.New(buildBus(rdb), userID, sessionID, coord)
	coord.SetAnnouncer(tabs)
	tabs.Start()
	coord.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mgr.Connect(ctx, creds); err != nil {
		// Not fatal: operations route through the fallback gateway and
		// the manager keeps reconnecting unless auth was rejected.
		log.Printf("push channel connect: %v", err)
	}
	cancel()

	if cfg.AMQPURL != "" {
		queue.NewConsumer(cfg.AMQPURL, coord, tabs).Start()
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterSeats(e, handler.NewSeatHandler(coord), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, user=%s, session=%s)", addr, cfg.Env, userID, sessionID)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// buildStore picks the session store backend.  Anything durable is
// wrapped so a backend outage degrades to in-memory holds instead of
// blocking seat operations.
func buildStore(cfg config.Config, rdb *redis.Client, userID string) coordinator.Store {
	switch cfg.SessionStore {
	case "mysql":
		db, err := session.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Printf("mysql session store unavailable, holds are memory-only: %v", err)
			return session.NewMemoryStore(userID)
		}
		return session.NewResilient(session.NewMySQLStore(db, userID), userID)
	case "memory":
		return session.NewMemoryStore(userID)
	default: // "redis"
		if rdb == nil {
			log.Println("redis session store unavailable, holds are memory-only")
			return session.NewMemoryStore(userID)
		}
		return session.NewResilient(session.NewRedisStore(rdb, userID), userID)
	}
}

// buildBus picks the cross-context transport: Redis pub/sub when
// available, the write-then-clear Redis queue when subscribing fails,
// and an in-process hub as the last resort.
func buildBus(rdb *redis.Client) crosstab.Bus {
	if rdb == nil {
		return crosstab.NewMemoryHub().Attach()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus, err := crosstab.NewRedisBus(ctx, rdb)
	if err != nil {
		log.Printf("tab pub/sub unavailable, using shared-storage queue: %v", err)
		return crosstab.NewStoreBus(rdb, time.Second)
	}
	return bus
}
