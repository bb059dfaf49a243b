package usecases

import (
	"fmt"
	"time"

	"autodm/internal/entities"

	"github.com/golang-jwt/jwt/v5"
)

// StateToken is the conversation state carried in a button payload. The
// click comes back as a brand new event, so everything needed to resume
// lives in here.
type StateToken struct {
	Stage       entities.Stage
	Gate        entities.Gate
	RuleID      string
	AccountID   string
	RecipientID string
}

type stateClaims struct {
	Stage       entities.Stage `json:"stg"`
	Gate        entities.Gate  `json:"gate"`
	RuleID      string         `json:"rid"`
	AccountID   string         `json:"acc"`
	RecipientID string         `json:"rcp"`
	jwt.RegisteredClaims
}

// StateTokenCodec signs and verifies state tokens with HS256.
type StateTokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateTokenCodec(secret string, ttl time.Duration) *StateTokenCodec {
	return &StateTokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Encode returns the compact signed form of t.
func (c *StateTokenCodec) Encode(t StateToken) (string, error) {
	now := c.now()
	claims := stateClaims{
		Stage:       t.Stage,
		Gate:        t.Gate,
		RuleID:      t.RuleID,
		AccountID:   t.AccountID,
		RecipientID: t.RecipientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign state token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of payload and returns its state.
func (c *StateTokenCodec) Decode(payload string) (*StateToken, error) {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(payload, &claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", entities.ErrInvalidStateToken, err)
	}

	switch claims.Gate {
	case entities.GateFollow, entities.GateAccess:
	default:
		return nil, fmt.Errorf("%w: unknown gate %q", entities.ErrInvalidStateToken, claims.Gate)
	}
	if claims.RuleID == "" || claims.RecipientID == "" {
		return nil, fmt.Errorf("%w: missing rule or recipient", entities.ErrInvalidStateToken)
	}

	return &StateToken{
		Stage:       claims.Stage,
		Gate:        claims.Gate,
		RuleID:      claims.RuleID,
		AccountID:   claims.AccountID,
		RecipientID: claims.RecipientID,
	}, nil
}
