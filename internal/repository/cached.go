package repository

import (
	"context"
	"encoding/json"

	"autodm/internal/cachestore"
	"autodm/internal/entities"
	"autodm/internal/interfaces"

	"go.uber.org/zap"
)

const (
	ruleCacheName = "rules"
	tierCacheName = "tier"
)

// CachedRuleStore caches ListActive results. GetRule and MarkUsed always
// hit the underlying store so a deactivated rule stops continuations
// immediately.
type CachedRuleStore struct {
	interfaces.RuleStore
	cache cachestore.CacheStore
	log   *zap.Logger
}

var _ interfaces.RuleStore = (*CachedRuleStore)(nil)

func NewCachedRuleStore(inner interfaces.RuleStore, cache cachestore.CacheStore, log *zap.Logger) *CachedRuleStore {
	return &CachedRuleStore{RuleStore: inner, cache: cache, log: log}
}

func (s *CachedRuleStore) ListActive(ctx context.Context, accountID string, kind entities.EventKind, contentID string) ([]entities.Rule, error) {
	key := accountID + "/" + string(kind) + "/" + contentID

	if raw, err := s.cache.Get(ctx, ruleCacheName, key); err != nil {
		s.log.Warn("Failed to read rule cache", zap.Error(err))
	} else if raw != "" {
		var rules []entities.Rule
		if err := json.Unmarshal([]byte(raw), &rules); err == nil {
			return rules, nil
		}
	}

	rules, err := s.RuleStore.ListActive(ctx, accountID, kind, contentID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rules); err == nil {
		if err := s.cache.Set(ctx, ruleCacheName, key, string(raw)); err != nil {
			s.log.Warn("Failed to write rule cache", zap.Error(err))
		}
	}
	return rules, nil
}

// CachedTierResolver caches owner tiers.
type CachedTierResolver struct {
	inner interfaces.TierResolver
	cache cachestore.CacheStore
	log   *zap.Logger
}

var _ interfaces.TierResolver = (*CachedTierResolver)(nil)

func NewCachedTierResolver(inner interfaces.TierResolver, cache cachestore.CacheStore, log *zap.Logger) *CachedTierResolver {
	return &CachedTierResolver{inner: inner, cache: cache, log: log}
}

func (r *CachedTierResolver) GetTier(ctx context.Context, ownerID string) (entities.Tier, error) {
	if v, err := r.cache.Get(ctx, tierCacheName, ownerID); err != nil {
		r.log.Warn("Failed to read tier cache", zap.Error(err))
	} else if v != "" {
		return entities.ParseTier(v), nil
	}

	tier, err := r.inner.GetTier(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if err := r.cache.Set(ctx, tierCacheName, ownerID, string(tier)); err != nil {
		r.log.Warn("Failed to write tier cache", zap.Error(err))
	}
	return tier, nil
}

