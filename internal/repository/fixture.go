package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"autodm/internal/entities"
)

// Fixture is a JSON document of owners, accounts and rules used to seed a
// store for local development and demos.
type Fixture struct {
	Subscriptions []struct {
		OwnerID string        `json:"owner_id"`
		Tier    entities.Tier `json:"tier"`
	} `json:"subscriptions"`
	Accounts []fixtureAccount `json:"accounts"`
	Rules    []entities.Rule  `json:"rules"`
}

// fixtureAccount exposes the access token, which ConnectedAccount hides
// from JSON.
type fixtureAccount struct {
	entities.ConnectedAccount
	AccessToken string `json:"access_token"`
}

// FixtureWriter is implemented by every store that can be seeded.
type FixtureWriter interface {
	SetPlan(ctx context.Context, ownerID string, tier entities.Tier) error
	UpsertAccount(ctx context.Context, a *entities.ConnectedAccount) error
	UpsertRule(ctx context.Context, r *entities.Rule) error
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// Apply upserts every record of the fixture into w.
func (f *Fixture) Apply(ctx context.Context, w FixtureWriter) error {
	for _, s := range f.Subscriptions {
		if err := w.SetPlan(ctx, s.OwnerID, entities.ParseTier(string(s.Tier))); err != nil {
			return fmt.Errorf("seed subscription %s: %w", s.OwnerID, err)
		}
	}
	for i := range f.Accounts {
		a := f.Accounts[i].ConnectedAccount
		a.AccessToken = f.Accounts[i].AccessToken
		if err := w.UpsertAccount(ctx, &a); err != nil {
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}
	for i := range f.Rules {
		r := f.Rules[i]
		if r.TriggerMode == "" {
			r.TriggerMode = entities.TriggerKeyword
		}
		if r.ContentID == "" {
			r.ContentID = entities.AnyContent
		}
		if err := w.UpsertRule(ctx, &r); err != nil {
			return fmt.Errorf("seed rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// PostgresFixtureWriter seeds the Postgres repositories.
type PostgresFixtureWriter struct {
	Accounts *AccountRepository
	Rules    *RuleRepository
	Tiers    *TierRepository
}

func (w PostgresFixtureWriter) SetPlan(ctx context.Context, ownerID string, tier entities.Tier) error {
	return w.Tiers.SetPlan(ctx, ownerID, tier)
}

func (w PostgresFixtureWriter) UpsertAccount(ctx context.Context, a *entities.ConnectedAccount) error {
	return w.Accounts.Upsert(ctx, a)
}

func (w PostgresFixtureWriter) UpsertRule(ctx context.Context, r *entities.Rule) error {
	return w.Rules.Upsert(ctx, r)
}
