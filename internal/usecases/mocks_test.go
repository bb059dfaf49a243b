package usecases

import (
	"context"
	"time"

	"autodm/internal/entities"

	"github.com/stretchr/testify/mock"
)

type MockUsageStore struct {
	mock.Mock
}

func (m *MockUsageStore) Admit(ctx context.Context, req entities.AdmitRequest) (entities.AdmitResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(entities.AdmitResult), args.Error(1)
}

func (m *MockUsageStore) AddAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time, tierLimit int) error {
	args := m.Called(ctx, ownerID, accountID, windowStart, tierLimit)
	return args.Error(0)
}

func (m *MockUsageStore) RemoveAccount(ctx context.Context, ownerID, accountID string, windowStart time.Time) error {
	args := m.Called(ctx, ownerID, accountID, windowStart)
	return args.Error(0)
}

func (m *MockUsageStore) GetWindow(ctx context.Context, ownerID string, windowStart time.Time) (*entities.UsageWindow, error) {
	args := m.Called(ctx, ownerID, windowStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.UsageWindow), args.Error(1)
}

func (m *MockUsageStore) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type MockTierResolver struct {
	mock.Mock
}

func (m *MockTierResolver) GetTier(ctx context.Context, ownerID string) (entities.Tier, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(entities.Tier), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) PostCommentReply(ctx context.Context, accountID, token, commentID, contentID, text string) (bool, error) {
	args := m.Called(ctx, accountID, token, commentID, contentID, text)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) SendDirectMessage(ctx context.Context, accountID, token, recipientID string, msg entities.DirectMessage) (bool, error) {
	args := m.Called(ctx, accountID, token, recipientID, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) CheckFollowStatus(ctx context.Context, accountID, token, userID string) (bool, error) {
	args := m.Called(ctx, accountID, token, userID)
	return args.Bool(0), args.Error(1)
}

type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Exists(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) Claim(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) Insert(ctx context.Context, log *entities.ReplyLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) GetActiveByPlatformID(ctx context.Context, platformID string) (*entities.ConnectedAccount, error) {
	args := m.Called(ctx, platformID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ConnectedAccount), args.Error(1)
}

func (m *MockAccountStore) GetByID(ctx context.Context, accountID string) (*entities.ConnectedAccount, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ConnectedAccount), args.Error(1)
}

func (m *MockAccountStore) IncrementCounters(ctx context.Context, accountID string, delta entities.AccountCounters) error {
	args := m.Called(ctx, accountID, delta)
	return args.Error(0)
}

func (m *MockAccountStore) SetActive(ctx context.Context, accountID string, active bool) error {
	args := m.Called(ctx, accountID, active)
	return args.Error(0)
}

type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) ListActive(ctx context.Context, accountID string, kind entities.EventKind, contentID string) ([]entities.Rule, error) {
	args := m.Called(ctx, accountID, kind, contentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Rule), args.Error(1)
}

func (m *MockRuleStore) GetRule(ctx context.Context, ruleID string) (*entities.Rule, error) {
	args := m.Called(ctx, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Rule), args.Error(1)
}

func (m *MockRuleStore) MarkUsed(ctx context.Context, ruleID string, at time.Time) error {
	args := m.Called(ctx, ruleID, at)
	return args.Error(0)
}

type MockDeferredQueue struct {
	mock.Mock
}

func (m *MockDeferredQueue) Enqueue(ctx context.Context, evt *entities.DeferredEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}
