package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

type Purpose string

const (
	PurposeArrival    Purpose = "arrival"
	PurposeCompletion Purpose = "completion"
)

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "NOT_FOUND"
	ReasonExpired  Reason = "EXPIRED"
	ReasonMismatch Reason = "MISMATCH"
)

const (
	DefaultLength = 6
	DefaultTTL    = 10 * time.Minute
	maxLength     = 12
)

var ErrInvalidTTL = errors.New("otp ttl must be at least one millisecond")

type Result struct {
	Valid  bool
	Reason Reason
}

// Store keeps one record per key. ConsumeIfMatch must compare and delete
// atomically so a code can succeed only once.
type Store interface {
	Put(ctx context.Context, key, digest string, expiresAt time.Time) error
	ConsumeIfMatch(ctx context.Context, key, digest string, now time.Time) (Reason, error)
}

type Authority struct {
	store  Store
	length int
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Authority)

func WithLength(n int) Option {
	return func(a *Authority) {
		if n > 0 && n <= maxLength {
			a.length = n
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

func NewAuthority(store Store, opts ...Option) *Authority {
	a := &Authority{
		store:  store,
		length: DefaultLength,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate returns a uniformly random decimal code. length <= 0 uses the
// configured length.
func (a *Authority) Generate(length int) (string, error) {
	if length <= 0 {
		length = a.length
	}
	if length > maxLength {
		return "", fmt.Errorf("otp length %d exceeds %d", length, maxLength)
	}
	var sb strings.Builder
	sb.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// Issue stores code for (subjectID, purpose), replacing any previous record.
// ttl <= 0 uses the default TTL. It returns the expiry instant.
func (a *Authority) Issue(ctx context.Context, subjectID string, purpose Purpose, code string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		ttl = a.ttl
	}
	if ttl < time.Millisecond {
		return time.Time{}, ErrInvalidTTL
	}
	expiresAt := a.now().Add(ttl)
	key := recordKey(subjectID, purpose)
	if err := a.store.Put(ctx, key, digest(key, Normalize(code)), expiresAt); err != nil {
		return time.Time{}, fmt.Errorf("store otp: %w", err)
	}
	return expiresAt, nil
}

// IssueNew generates a fresh code, stores it and returns it with its expiry.
func (a *Authority) IssueNew(ctx context.Context, subjectID string, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	code, err := a.Generate(0)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt, err := a.Issue(ctx, subjectID, purpose, code, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return code, expiresAt, nil
}

// Verify checks candidate against the stored record and consumes it on success.
func (a *Authority) Verify(ctx context.Context, subjectID string, purpose Purpose, candidate string) (Result, error) {
	key := recordKey(subjectID, purpose)
	reason, err := a.store.ConsumeIfMatch(ctx, key, digest(key, Normalize(candidate)), a.now())
	if err != nil {
		return Result{}, fmt.Errorf("verify otp: %w", err)
	}
	return Result{Valid: reason == ReasonNone, Reason: reason}, nil
}

func Normalize(code string) string {
	return strings.TrimSpace(code)
}

// NormalizeCandidate turns a decoded JSON value into the string form used for
// comparison. Numbers are rendered without exponent or fraction.
func NormalizeCandidate(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return Normalize(c)
	case json.Number:
		return Normalize(c.String())
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	default:
		return Normalize(fmt.Sprint(c))
	}
}

func recordKey(subjectID string, purpose Purpose) string {
	return fmt.Sprintf("otp:%s:%s", subjectID, purpose)
}

func digest(key, code string) string {
	sum := sha256.Sum256([]byte(key + "|" + code))
	return hex.EncodeToString(sum[:])
}
