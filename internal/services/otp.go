package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

type OTPPurpose string

const (
	PurposeEmail  OTPPurpose = "email"
	PurposeMobile OTPPurpose = "mobile"
	PurposeLogin  OTPPurpose = "login"
)

const otpCodeDigits = 6

type otpRecord struct {
	Code        string `json:"code"`
	ExpiresAtMS int64  `json:"expires_at_ms"`
	Payload     string `json:"payload,omitempty"`
}

// OTPService issues and verifies short-lived numeric codes in the shared
// store. At most one code is active per (subject, purpose): a new
// issuance overwrites the previous record.
type OTPService struct {
	Redis redis.UniversalClient
}

func NewOTPService(client redis.UniversalClient) *OTPService {
	return &OTPService{Redis: client}
}

func otpKey(subjectKey string, purpose OTPPurpose) string {
	return fmt.Sprintf("otp:%s:%s", purpose, subjectKey)
}

// Issue generates a fresh code valid for ttl and stores it, replacing any
// prior code for the same subject and purpose. Transmission is the
// caller's responsibility.
func (s *OTPService) Issue(ctx context.Context, subjectKey string, purpose OTPPurpose, ttl time.Duration, payload string) (string, error) {
	code, err := generateNumericCode(otpCodeDigits)
	if err != nil {
		return "", err
	}

	record := otpRecord{
		Code:        code,
		ExpiresAtMS: time.Now().Add(ttl).UnixMilli(),
		Payload:     payload,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if err := s.Redis.Set(ctx, otpKey(subjectKey, purpose), data, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return code, nil
}

// Verify consumes the stored code on success and returns its carried
// payload. Expiry is a strict greater-than check against the stored
// epoch milliseconds; an expired record is treated as consumed.
func (s *OTPService) Verify(ctx context.Context, subjectKey string, purpose OTPPurpose, candidate string) (string, error) {
	key := otpKey(subjectKey, purpose)

	data, err := s.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record otpRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", ErrNotFound
	}

	if time.Now().UnixMilli() > record.ExpiresAtMS {
		_ = s.Redis.Del(ctx, key).Err()
		return "", ErrCodeExpired
	}

	if record.Code != candidate {
		return "", ErrCodeMismatch
	}

	if err := s.Redis.Del(ctx, key).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return record.Payload, nil
}

func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}
