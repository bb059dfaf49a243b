package main

import (
	"context"
	"fmt"

	"autodm/internal/cachestore"
	"autodm/internal/config"
	"autodm/internal/infrastructure"
	"autodm/internal/interfaces"
	"autodm/internal/repository"
	"autodm/internal/repository/redisusage"
	"autodm/internal/repository/sqlite"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// stores is the set of storage ports for the configured backends.
type stores struct {
	accounts interfaces.AccountStore
	rules    interfaces.RuleStore
	usage    interfaces.UsageStore
	events   interfaces.EventStore
	logs     interfaces.EventLogReader
	queue    interfaces.DeferredQueue
	tiers    interfaces.TierResolver
	fixtures repository.FixtureWriter

	migrate func(ctx context.Context) error
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	var s stores

	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		s.accounts, s.rules, s.usage, s.events, s.logs, s.queue, s.tiers = db, db, db, db, db, db, db
		s.fixtures = db
		s.migrate = db.Migrate

	case config.StoreDriverPostgres:
		pg, err := infrastructure.NewPostgresClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg.Close)

		accounts := repository.NewAccountRepository(pg.Pool)
		rules := repository.NewRuleRepository(pg.Pool)
		tiers := repository.NewTierRepository(pg.Pool)
		replyLogs := repository.NewReplyLogRepository(pg.Pool)

		s.accounts = accounts
		s.rules = rules
		s.usage = repository.NewUsageRepository(pg.Pool)
		s.events = replyLogs
		s.logs = replyLogs
		s.queue = repository.NewDeferredRepository(pg.Pool)
		s.tiers = tiers
		s.fixtures = repository.PostgresFixtureWriter{Accounts: accounts, Rules: rules, Tiers: tiers}
		s.migrate = pg.Migrate

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := infrastructure.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		rdb = client
	}

	if cfg.LedgerBackend == config.LedgerBackendRedis {
		s.usage = redisusage.New(rdb)
		log.Info("Usage ledger backed by redis")
	}

	var ruleCache, tierCache cachestore.CacheStore
	if rdb != nil {
		ruleCache = cachestore.NewRedisCacheStore(rdb, cfg.CacheCapacity, cfg.RuleCacheTTL)
		tierCache = cachestore.NewRedisCacheStore(rdb, cfg.CacheCapacity, cfg.TierCacheTTL)
	} else {
		ruleCache = cachestore.NewMemCacheStore(cfg.CacheCapacity, cfg.RuleCacheTTL)
		tierCache = cachestore.NewMemCacheStore(cfg.CacheCapacity, cfg.TierCacheTTL)
	}
	s.rules = repository.NewCachedRuleStore(s.rules, ruleCache, log)
	s.tiers = repository.NewCachedTierResolver(s.tiers, tierCache, log)

	return &s, nil
}
