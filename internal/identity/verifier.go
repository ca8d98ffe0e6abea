// Package identity resolves phone numbers to known responsible parties and runs the WhatsApp
// one-time code challenge.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"respirakids/internal/config"
	"respirakids/internal/metrics"
	"respirakids/internal/model"
	"respirakids/internal/ratelimit"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	codeKeyPrefix     = "otp:code:"
	attemptsKeyPrefix = "otp:attempts:"
	codeDigits        = 6
	jidSuffix         = "@s.whatsapp.net"
)

// ValidateResult is the outcome of Validate.
type ValidateResult struct {
	IsValid      bool   `json:"is_valid"`
	PersonExists bool   `json:"person_exists"`
	PersonID     string `json:"person_id,omitempty"`
	PersonName   string `json:"person_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	WhatsappJID  string `json:"whatsapp_jid,omitempty"`
}

// SendCodeResult is the outcome of SendCode.
type SendCodeResult struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CodeCheckResult is the outcome of ValidateCode.
type CodeCheckResult struct {
	Valid             bool `json:"valid"`
	Blocked           bool `json:"blocked,omitempty"`
	Expired           bool `json:"expired,omitempty"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}

// Directory finds responsible parties by normalized phone.
type Directory interface {
	FindResponsibleByPhone(ctx context.Context, phone string) (*model.Person, error)
}

// CodeSender delivers a one-time code to a WhatsApp handle.
type CodeSender interface {
	SendCode(ctx context.Context, jid, code string, expiresAt time.Time) error
}

// Options tunes the challenge.
type Options struct {
	CountryCode    string
	CodeTTL        time.Duration
	MaxAttempts    int
	ResendInterval time.Duration
	ResendBurst    int
}

// Verifier implements the identity contract consumed by the wizard.
type Verifier struct {
	directory Directory
	redis     *redis.Client
	sender    CodeSender
	opts      Options
	resend    *ratelimit.Limiter
	logger    zerolog.Logger

	now     func() time.Time
	newCode func() (string, error)
}

// NewVerifier creates a verifier storing codes in redisClient.
func NewVerifier(directory Directory, redisClient *redis.Client, sender CodeSender, opts Options, logger *zerolog.Logger) *Verifier {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.ResendInterval <= 0 {
		opts.ResendInterval = 30 * time.Second
	}
	if opts.ResendBurst <= 0 {
		opts.ResendBurst = 2
	}
	return &Verifier{
		directory: directory,
		redis:     redisClient,
		sender:    sender,
		opts:      opts,
		resend:    ratelimit.Every(opts.ResendInterval, opts.ResendBurst),
		logger:    logger.With().Str("component", "identity").Logger(),
		now:       time.Now,
		newCode:   randomCode,
	}
}

// ResendLimiter exposes the per-handle throttle so the caller can run its cleanup loop.
func (v *Verifier) ResendLimiter() *ratelimit.Limiter {
	return v.resend
}

// NormalizePhone strips formatting and prefixes countryCode on national numbers.
// It reports false when the result is not a 12-15 digit international number.
func NormalizePhone(phone, countryCode string) (string, bool) {
	digits := config.DigitsOnly(phone)
	if len(digits) == 10 || len(digits) == 11 {
		digits = config.DigitsOnly(countryCode) + digits
	}
	if len(digits) < 12 || len(digits) > 15 {
		return digits, false
	}
	return digits, true
}

// JID returns the WhatsApp handle for a normalized phone.
func JID(phone string) string {
	return phone + jidSuffix
}

// Validate checks the phone format and looks the responsible party up.
func (v *Verifier) Validate(ctx context.Context, phone string) (ValidateResult, error) {
	digits, ok := NormalizePhone(phone, v.opts.CountryCode)
	if !ok {
		return ValidateResult{IsValid: false}, nil
	}

	res := ValidateResult{IsValid: true, Phone: digits, WhatsappJID: JID(digits)}
	person, err := v.directory.FindResponsibleByPhone(ctx, digits)
	if errors.Is(err, model.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("lookup responsible: %w", err)
	}

	res.PersonExists = true
	res.PersonID = person.ID
	res.PersonName = person.Name
	return res, nil
}

// SendCode issues a fresh code for handle and resets its attempt counter.
func (v *Verifier) SendCode(ctx context.Context, handle string) (SendCodeResult, error) {
	if !v.resend.Allow(handle) {
		metrics.IncCodeSent("throttled")
		return SendCodeResult{Error: "aguarde alguns segundos antes de pedir um novo código"}, nil
	}

	code, err := v.newCode()
	if err != nil {
		return SendCodeResult{}, fmt.Errorf("generate code: %w", err)
	}
	expiresAt := v.now().Add(v.opts.CodeTTL).UTC()

	pipe := v.redis.TxPipeline()
	pipe.Set(ctx, codeKeyPrefix+handle, code, v.opts.CodeTTL)
	pipe.Del(ctx, attemptsKeyPrefix+handle)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.IncCodeSent("error")
		return SendCodeResult{}, fmt.Errorf("store code: %w", err)
	}

	if err := v.sender.SendCode(ctx, handle, code, expiresAt); err != nil {
		_ = v.redis.Del(ctx, codeKeyPrefix+handle).Err()
		metrics.IncCodeSent("error")
		return SendCodeResult{}, fmt.Errorf("deliver code: %w", err)
	}

	metrics.IncCodeSent("sent")
	v.logger.Info().Str("handle", handle).Time("expires_at", expiresAt).Msg("verification code sent")
	return SendCodeResult{Success: true, ExpiresAt: expiresAt}, nil
}

// ValidateCode checks code against the one issued for handle.
// A wrong code consumes an attempt; the last attempt burns the code and reports Blocked.
func (v *Verifier) ValidateCode(ctx context.Context, handle, code string) (CodeCheckResult, error) {
	codeKey := codeKeyPrefix + handle
	attemptsKey := attemptsKeyPrefix + handle

	stored, err := v.redis.Get(ctx, codeKey).Result()
	if errors.Is(err, redis.Nil) {
		metrics.IncCodeCheck("expired")
		return CodeCheckResult{Expired: true}, nil
	}
	if err != nil {
		return CodeCheckResult{}, fmt.Errorf("read code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1 {
		if err := v.redis.Del(ctx, codeKey, attemptsKey).Err(); err != nil {
			v.logger.Warn().Err(err).Str("handle", handle).Msg("failed to delete used code")
		}
		v.resend.Reset(handle)
		metrics.IncCodeCheck("valid")
		return CodeCheckResult{Valid: true, AttemptsRemaining: v.opts.MaxAttempts}, nil
	}

	attempts, err := v.redis.Incr(ctx, attemptsKey).Result()
	if err != nil {
		return CodeCheckResult{}, fmt.Errorf("count attempt: %w", err)
	}
	if attempts == 1 {
		_ = v.redis.Expire(ctx, attemptsKey, v.opts.CodeTTL).Err()
	}

	remaining := v.opts.MaxAttempts - int(attempts)
	if remaining <= 0 {
		_ = v.redis.Del(ctx, codeKey, attemptsKey).Err()
		metrics.IncCodeCheck("blocked")
		v.logger.Warn().Str("handle", handle).Msg("verification blocked after too many attempts")
		return CodeCheckResult{Blocked: true}, nil
	}

	metrics.IncCodeCheck("invalid")
	return CodeCheckResult{AttemptsRemaining: remaining}, nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
