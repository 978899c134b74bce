package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"raffle-ledger-backend/internal/common/cache"
	"raffle-ledger-backend/internal/common/config"
	"raffle-ledger-backend/internal/common/keylock"
	"raffle-ledger-backend/internal/common/logger"
	checkoutservice "raffle-ledger-backend/internal/features/checkout/service"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	loyalty "raffle-ledger-backend/internal/features/loyalty/service"
	raffleservice "raffle-ledger-backend/internal/features/raffle/service"
	referral "raffle-ledger-backend/internal/features/referral/service"
	"raffle-ledger-backend/internal/platform/events"
	"raffle-ledger-backend/internal/platform/payment"
	"raffle-ledger-backend/internal/platform/redis"
	"raffle-ledger-backend/internal/platform/telegram"
	"raffle-ledger-backend/internal/storage"
	"raffle-ledger-backend/internal/storage/memory"
	redisstore "raffle-ledger-backend/internal/storage/redis"
	"raffle-ledger-backend/internal/workers"
)

const serviceName = "raffle-ledger-backend"

// srv holds everything a command needs. Each load step fills part of it.
type srv struct {
	cfg *config.Config

	rdb       *redis.Client
	store     storage.Store
	cache     cache.Cache
	publisher *events.Async
	gateway   payment.Gateway

	ledger   inventory.LedgerService
	raffles  raffleservice.RaffleService
	loyalty  loyalty.LoyaltyService
	referral referral.ReferralService
	checkout checkoutservice.CheckoutService
}

func newSrv(c *cli.Context) (*srv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if driver := c.String("storage"); driver != "" {
		cfg.Storage = driver
	}
	logger.Init(serviceName, cfg.Debug)

	s := &srv{cfg: cfg}
	if err := s.loadStorage(c.Context); err != nil {
		return nil, err
	}
	if err := s.loadCache(); err != nil {
		s.close()
		return nil, err
	}
	s.loadEvents()
	s.loadServices()
	return s, nil
}

func (s *srv) loadStorage(ctx context.Context) error {
	switch s.cfg.Storage {
	case config.StorageRedis:
		rdb, err := redis.OpenFromConfig(ctx, s.cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		s.rdb = rdb
		s.store = redisstore.NewStore(rdb)
		logger.Info().Str("addr", s.cfg.RedisAddr()).Msg("Using redis storage")
	case config.StorageMemory:
		s.store = memory.NewStore()
		logger.Warn().Msg("Using in-memory storage, data is lost on restart")
	default:
		return fmt.Errorf("unknown storage driver %q", s.cfg.Storage)
	}
	return nil
}

func (s *srv) loadCache() error {
	if s.rdb != nil {
		s.cache = cache.NewRedisCache(s.rdb)
		return nil
	}
	local, err := cache.NewLocalCache(s.cfg.Cache.LocalSize)
	if err != nil {
		return fmt.Errorf("create local cache: %w", err)
	}
	s.cache = local
	return nil
}

func (s *srv) loadEvents() {
	var sink events.Sink = events.NewLogSink()
	if s.rdb != nil {
		sink = events.NewStreamSink(s.rdb, s.cfg.Events.Stream)
	}
	s.publisher = events.NewAsync(sink, s.cfg.Events.BufferSize)
}

func (s *srv) loadServices() {
	locks := keylock.New[string]()
	s.gateway = payment.NewSandbox(s.cfg.Payment.DeclineRate)

	s.ledger = inventory.NewLedgerService(s.store, locks, s.gateway, s.publisher, s.cfg)
	s.raffles = raffleservice.NewRaffleService(s.store, s.ledger, locks, s.publisher)
	s.loyalty = loyalty.NewLoyaltyService(s.store, s.store, s.publisher)
	s.referral = referral.NewReferralService(s.store, s.loyalty, s.publisher, s.cfg.Loyalty.ReferralBonus)
	s.checkout = checkoutservice.NewCheckoutService(s.ledger, s.loyalty, s.referral, s.gateway, s.cfg)
}

func (s *srv) scheduler() *workers.Scheduler {
	return workers.NewScheduler(workers.MaintenanceJobs(s.cfg, s.ledger, s.raffles)...)
}

// streamWorker is nil without Redis; events then only reach the log.
func (s *srv) streamWorker() *workers.EventStreamWorker {
	if s.rdb == nil {
		return nil
	}
	host, _ := os.Hostname()
	w := workers.NewEventStreamWorker(s.rdb, s.cfg.Events.Stream, s.cfg.Events.Group, fmt.Sprintf("%s-%d", host, os.Getpid()))

	var sender workers.MessageSender = workers.NewLogSender()
	if s.cfg.Telegram.BotToken != "" {
		sender = telegram.NewClient(s.cfg.Telegram.BotToken)
	}
	workers.NewNotifier(sender).Register(w)
	return w
}

func (s *srv) close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			logger.Warn().Err(err).Msg("Failed to close redis")
		}
	}
}
