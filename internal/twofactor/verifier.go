// Package twofactor verifies one-time codes before any funds move. Delivery
// (SMS/TOTP enrollment) happens elsewhere; this package consumes only the
// stored code and produces a verification result.
package twofactor

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCodeTTL is how long an issued code stays valid.
const DefaultCodeTTL = 5 * time.Minute

const codeKeyPrefix = "2fa:code:"

// Result carries the verification outcome plus a user-presentable reason on
// failure.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier validates a one-time code against the user's enrolled factor.
type Verifier interface {
	Verify(ctx context.Context, userID, code string) (Result, error)
}

// RedisVerifier stores bcrypt-hashed one-time codes in Redis with a TTL.
// Codes are single use: a successful verification consumes the stored value.
type RedisVerifier struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisVerifier builds a verifier with the default code TTL.
func NewRedisVerifier(rdb *redis.Client) *RedisVerifier {
	return &RedisVerifier{rdb: rdb, ttl: DefaultCodeTTL}
}

// Issue stores the hash of a freshly delivered code for the user, replacing
// any previous code.
func (v *RedisVerifier) Issue(ctx context.Context, userID, code string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return v.rdb.Set(ctx, codeKeyPrefix+userID, hash, v.ttl).Err()
}

// Verify compares the submitted code against the stored hash. The stored
// code is deleted on success so it cannot be replayed.
func (v *RedisVerifier) Verify(ctx context.Context, userID, code string) (Result, error) {
	if code == "" {
		return Result{Valid: false, Reason: "verification code is required"}, nil
	}

	key := codeKeyPrefix + userID
	hash, err := v.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return Result{Valid: false, Reason: "no active verification code; request a new one"}, nil
	}
	if err != nil {
		return Result{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return Result{Valid: false, Reason: "invalid verification code"}, nil
	}

	// Single use. A delete failure leaves the code to expire with its TTL.
	_ = v.rdb.Del(ctx, key).Err()
	return Result{Valid: true}, nil
}

// StaticVerifier accepts one fixed code; used in tests.
type StaticVerifier struct {
	Code string
}

// Verify reports whether the submitted code matches the fixed one.
func (s StaticVerifier) Verify(_ context.Context, _ string, code string) (Result, error) {
	if code == s.Code {
		return Result{Valid: true}, nil
	}
	return Result{Valid: false, Reason: "invalid verification code"}, nil
}
