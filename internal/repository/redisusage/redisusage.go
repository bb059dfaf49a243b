// Package redisusage keeps usage windows in redis. Every admission is a
// single Lua script, so the check against the ceiling and the increment
// are atomic across all service instances sharing the redis server.
package redisusage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "autodm/usage/"
	indexKey  = keyPrefix + "windows"
)

var admitScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'tier_limit', ARGV[1])
redis.call('HSETNX', KEYS[1], 'total', 0)
redis.call('ZADD', KEYS[4], 'NX', ARGV[6], ARGV[5])
local limit = tonumber(redis.call('HGET', KEYS[1], 'tier_limit'))
local total = tonumber(redis.call('HGET', KEYS[1], 'total'))
local calls = tonumber(ARGV[2])
if total + calls > limit then
	return {0, limit, total}
end
total = redis.call('HINCRBY', KEYS[1], 'total', calls)
redis.call('HINCRBY', KEYS[2], ARGV[3], calls)
redis.call('HSET', KEYS[3], ARGV[3], ARGV[4])
return {1, limit, total}
`)

var addAccountScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'tier_limit', ARGV[1])
redis.call('HSETNX', KEYS[1], 'total', 0)
redis.call('ZADD', KEYS[4], 'NX', ARGV[4], ARGV[3])
redis.call('HSETNX', KEYS[2], ARGV[2], 0)
return 1
`)

type Store struct {
	Client *redis.Client
}

var _ interfaces.UsageStore = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{Client: client}
}

type windowKeys struct {
	window, accounts, lastCall, member string
	score                              int64
}

func keysFor(ownerID string, windowStart time.Time) windowKeys {
	ts := windowStart.UTC().Unix()
	member := ownerID + "/" + strconv.FormatInt(ts, 10)
	base := keyPrefix + member
	return windowKeys{
		window:   base,
		accounts: base + "/accounts",
		lastCall: base + "/last",
		member:   member,
		score:    ts,
	}
}

func (s *Store) Admit(ctx context.Context, req entities.AdmitRequest) (entities.AdmitResult, error) {
	k := keysFor(req.OwnerID, req.WindowStart)
	vals, err := admitScript.Run(ctx, s.Client,
		[]string{k.window, k.accounts, k.lastCall, indexKey},
		req.TierLimit, req.Calls, req.AccountID, req.Now.UTC().UnixNano(), k.member, k.score,
	).Int64Slice()
	if err != nil {
		return entities.AdmitResult{}, fmt.Errorf("admit script: %w", err)
	}
	if len(vals) != 3 {
		return entities.AdmitResult{}, fmt.Errorf("admit script: unexpected reply %v", vals)
	}
	return entities.AdmitResult{
		Allowed:        vals[0] == 1,
		TierLimit:      int(vals[1]),
		TotalCallsMade: int(vals[2]),
	}, nil
}

func (s *Store) AddAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time, tierLimit int) error {
	k := keysFor(ownerID, windowStart)
	return addAccountScript.Run(ctx, s.Client,
		[]string{k.window, k.accounts, k.lastCall, indexKey},
		tierLimit, accountID, k.member, k.score,
	).Err()
}

func (s *Store) RemoveAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time) error {
	k := keysFor(ownerID, windowStart)
	multi := s.Client.TxPipeline()
	multi.HDel(ctx, k.accounts, accountID)
	multi.HDel(ctx, k.lastCall, accountID)
	_, err := multi.Exec(ctx)
	return err
}

func (s *Store) GetWindow(ctx context.Context, ownerID string, windowStart time.Time) (*entities.UsageWindow, error) {
	k := keysFor(ownerID, windowStart)

	multi := s.Client.Pipeline()
	windowCmd := multi.HGetAll(ctx, k.window)
	accountsCmd := multi.HGetAll(ctx, k.accounts)
	lastCmd := multi.HGetAll(ctx, k.lastCall)
	if _, err := multi.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	fields := windowCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}
	limit, err := strconv.Atoi(fields["tier_limit"])
	if err != nil {
		return nil, fmt.Errorf("corrupt window %s: %w", k.window, err)
	}
	total, err := strconv.Atoi(fields["total"])
	if err != nil {
		return nil, fmt.Errorf("corrupt window %s: %w", k.window, err)
	}

	w := &entities.UsageWindow{
		OwnerID:        ownerID,
		WindowStart:    time.Unix(k.score, 0).UTC(),
		TierLimit:      limit,
		TotalCallsMade: total,
		Accounts:       []entities.AccountUsage{},
	}
	last := lastCmd.Val()
	for id, raw := range accountsCmd.Val() {
		calls, _ := strconv.Atoi(raw)
		au := entities.AccountUsage{AccountID: id, CallsMade: calls}
		if ns, err := strconv.ParseInt(last[id], 10, 64); err == nil {
			t := time.Unix(0, ns).UTC()
			au.LastCallAt = &t
		}
		w.Accounts = append(w.Accounts, au)
	}
	slices.SortFunc(w.Accounts, func(a, b entities.AccountUsage) int {
		return strings.Compare(a.AccountID, b.AccountID)
	})
	return w, nil
}

func (s *Store) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	members, err := s.Client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UTC().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	multi := s.Client.TxPipeline()
	for _, m := range members {
		base := keyPrefix + m
		multi.Del(ctx, base, base+"/accounts", base+"/last")
		multi.ZRem(ctx, indexKey, m)
	}
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}
