package usecases

import (
	"context"
	"fmt"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"
	"autodm/internal/metrics"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// TierLimits are the hourly call ceilings seeded into new usage windows.
type TierLimits struct {
	Free int
	Pro  int
}

// For returns the ceiling for tier.
func (l TierLimits) For(t entities.Tier) int {
	if t == entities.TierPro {
		return l.Pro
	}
	return l.Free
}

// UsageLedger enforces the per-owner hourly call budget. It holds no
// counters itself: every admission is a single atomic update in the store,
// so several service instances can share one budget.
type UsageLedger struct {
	store    interfaces.UsageStore
	tiers    interfaces.TierResolver
	notifier interfaces.Notifier
	limits   TierLimits
	log      *zap.Logger
	now      func() time.Time

	// owner/window pairs already alerted on by this instance
	alerted *expirable.LRU[string, struct{}]
}

func NewUsageLedger(store interfaces.UsageStore, tiers interfaces.TierResolver, notifier interfaces.Notifier, limits TierLimits, log *zap.Logger) *UsageLedger {
	return &UsageLedger{
		store:    store,
		tiers:    tiers,
		notifier: notifier,
		limits:   limits,
		log:      log,
		now:      time.Now,
		alerted:  expirable.NewLRU[string, struct{}](10_000, nil, 2*time.Hour),
	}
}

// Admit asks for callsNeeded metered calls on behalf of accountID. Free
// owners over the ceiling are rejected; pro owners are queued.
func (l *UsageLedger) Admit(ctx context.Context, ownerID, accountID string, callsNeeded int) (entities.Admission, error) {
	if callsNeeded <= 0 {
		return entities.Admission{Allowed: true}, nil
	}

	tier, err := l.tiers.GetTier(ctx, ownerID)
	if err != nil {
		return entities.Admission{}, fmt.Errorf("resolve tier: %w", err)
	}

	now := l.now()
	windowStart := entities.WindowStartFor(now)
	res, err := l.store.Admit(ctx, entities.AdmitRequest{
		OwnerID:     ownerID,
		AccountID:   accountID,
		WindowStart: windowStart,
		TierLimit:   l.limits.For(tier),
		Calls:       callsNeeded,
		Now:         now,
	})
	if err != nil {
		return entities.Admission{}, fmt.Errorf("admit calls: %w", err)
	}

	if res.Allowed {
		metrics.LedgerDecisions.WithLabelValues(string(tier), "allowed").Inc()
		metrics.LedgerCallsAdmitted.WithLabelValues(string(tier)).Add(float64(callsNeeded))
		l.log.Debug("Calls admitted",
			zap.String("owner_id", ownerID),
			zap.String("account_id", accountID),
			zap.Int("calls", callsNeeded),
			zap.Int("total_calls_made", res.TotalCallsMade),
			zap.Int("tier_limit", res.TierLimit))
		return entities.Admission{Allowed: true}, nil
	}

	l.alertOnce(ctx, ownerID, tier, windowStart, res)

	reason := fmt.Sprintf("hourly call limit reached (%d/%d, needed %d)", res.TotalCallsMade, res.TierLimit, callsNeeded)
	if tier == entities.TierFree {
		metrics.LedgerDecisions.WithLabelValues(string(tier), "rejected").Inc()
		return entities.Admission{Allowed: false, Reason: reason}, nil
	}

	metrics.LedgerDecisions.WithLabelValues(string(tier), "queued").Inc()
	return entities.Admission{
		Allowed: false,
		Reason:  reason,
		Queued:  true,
		QueueID: uuid.NewString(),
	}, nil
}

// TrackAccount adds a freshly linked account to the owner's current window.
func (l *UsageLedger) TrackAccount(ctx context.Context, ownerID, accountID string) error {
	tier, err := l.tiers.GetTier(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve tier: %w", err)
	}
	windowStart := entities.WindowStartFor(l.now())
	if err := l.store.AddAccount(ctx, ownerID, accountID, windowStart, l.limits.For(tier)); err != nil {
		return fmt.Errorf("track account: %w", err)
	}
	return nil
}

// UntrackAccount removes an unlinked account from the current window. Older
// windows keep their history.
func (l *UsageLedger) UntrackAccount(ctx context.Context, ownerID, accountID string) error {
	windowStart := entities.WindowStartFor(l.now())
	if err := l.store.RemoveAccount(ctx, ownerID, accountID, windowStart); err != nil {
		return fmt.Errorf("untrack account: %w", err)
	}
	return nil
}

// Status returns the owner's current window. A window that has not been
// created yet is reported empty with the limit it would be seeded with.
func (l *UsageLedger) Status(ctx context.Context, ownerID string) (*entities.UsageStatus, error) {
	tier, err := l.tiers.GetTier(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve tier: %w", err)
	}
	windowStart := entities.WindowStartFor(l.now())
	window, err := l.store.GetWindow(ctx, ownerID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}
	if window == nil {
		window = &entities.UsageWindow{
			OwnerID:     ownerID,
			WindowStart: windowStart,
			TierLimit:   l.limits.For(tier),
			Accounts:    []entities.AccountUsage{},
		}
	}

	status := &entities.UsageStatus{
		Window:    *window,
		Tier:      tier,
		Remaining: window.Remaining(),
	}
	if window.TierLimit > 0 {
		status.Percent = int(int64(window.TotalCallsMade) * 100 / int64(window.TierLimit))
		if status.Percent > 100 {
			status.Percent = 100
		}
	}
	return status, nil
}

// Prune deletes windows that started before now-retention.
func (l *UsageLedger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	before := entities.WindowStartFor(l.now().Add(-retention))
	n, err := l.store.PruneBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune windows: %w", err)
	}
	metrics.WindowsPruned.Add(float64(n))
	if n > 0 {
		l.log.Info("Pruned usage windows", zap.Int64("count", n), zap.Time("before", before))
	}
	return n, nil
}

func (l *UsageLedger) alertOnce(ctx context.Context, ownerID string, tier entities.Tier, windowStart time.Time, res entities.AdmitResult) {
	key := ownerID + "/" + windowStart.Format(time.RFC3339)
	if _, seen := l.alerted.Get(key); seen {
		return
	}
	l.alerted.Add(key, struct{}{})

	l.log.Warn("Owner reached hourly call limit",
		zap.String("owner_id", ownerID),
		zap.String("tier", string(tier)),
		zap.Int("total_calls_made", res.TotalCallsMade),
		zap.Int("tier_limit", res.TierLimit))

	if l.notifier == nil {
		return
	}
	text := fmt.Sprintf("Owner %s (%s) reached the hourly call limit %d/%d for window %s",
		ownerID, tier, res.TotalCallsMade, res.TierLimit, windowStart.Format("2006-01-02 15:04 MST"))
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.notifier.Notify(nctx, text); err != nil {
			l.log.Warn("Failed to send limit alert", zap.Error(err), zap.String("owner_id", ownerID))
		}
	}()
}
