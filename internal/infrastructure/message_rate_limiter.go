package infrastructure

import (
	"context"
	"sync"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter keeps one token bucket per key
type KeyedRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*keyedBucket
	rate        rate.Limit
	burst       int
	idleAfter   time.Duration
	cleanupTick time.Duration
	stop        chan struct{}
}

type keyedBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates a limiter allowing perSecond events per key
// with the given burst. Buckets idle for more than 10 minutes are dropped.
func NewKeyedRateLimiter(perSecond float64, burst int) *KeyedRateLimiter {
	rl := &KeyedRateLimiter{
		buckets:     make(map[string]*keyedBucket),
		rate:        rate.Limit(perSecond),
		burst:       burst,
		idleAfter:   10 * time.Minute,
		cleanupTick: 5 * time.Minute,
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *KeyedRateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &keyedBucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Allow reports whether key may act now, consuming a token if so.
func (rl *KeyedRateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// Wait blocks until key may act or ctx is done.
func (rl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return rl.bucket(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (rl *KeyedRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Close stops the cleanup goroutine.
func (rl *KeyedRateLimiter) Close() {
	close(rl.stop)
}

// cleanup removes stale buckets periodically
func (rl *KeyedRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *KeyedRateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleAfter {
			delete(rl.buckets, key)
		}
	}
}

// PacedGateway spaces outbound calls per connected account so a burst of
// events never trips the platform's own rate limits. It waits rather than
// drops; a wait cut short by ctx is a failed send.
type PacedGateway struct {
	next    interfaces.Gateway
	limiter *KeyedRateLimiter
}

var _ interfaces.Gateway = (*PacedGateway)(nil)

func NewPacedGateway(next interfaces.Gateway, limiter *KeyedRateLimiter) *PacedGateway {
	return &PacedGateway{next: next, limiter: limiter}
}

func (p *PacedGateway) PostCommentReply(ctx context.Context, accountID, token, commentID, contentID, text string) (bool, error) {
	if err := p.limiter.Wait(ctx, accountID); err != nil {
		return false, err
	}
	return p.next.PostCommentReply(ctx, accountID, token, commentID, contentID, text)
}

func (p *PacedGateway) SendDirectMessage(ctx context.Context, accountID, token, recipientID string, msg entities.DirectMessage) (bool, error) {
	if err := p.limiter.Wait(ctx, accountID); err != nil {
		return false, err
	}
	return p.next.SendDirectMessage(ctx, accountID, token, recipientID, msg)
}

func (p *PacedGateway) CheckFollowStatus(ctx context.Context, accountID, token, userID string) (bool, error) {
	if err := p.limiter.Wait(ctx, accountID); err != nil {
		return false, err
	}
	return p.next.CheckFollowStatus(ctx, accountID, token, userID)
}
