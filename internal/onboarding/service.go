package onboarding

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vriksha-code/verisure/internal/shared/auth"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// Service runs the onboarding steps.
type Service struct {
	Store        ChallengeStore
	Mode         Mode
	ChallengeTTL time.Duration
	SessionTTL   time.Duration
	// Env controls whether strict codes are logged for local testing.
	Env string

	now     func() time.Time
	newCode func() (string, error)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// RequestOTP opens a challenge for phone.
func (s *Service) RequestOTP(ctx context.Context, phone string) (Issued, error) {
	phone = normalizePhone(phone)
	if err := validatorInstance().Var(phone, "required,len=10,numeric"); err != nil {
		return Issued{}, &FieldError{Field: "phone", Message: "enter a 10-digit phone number"}
	}
	ttl := s.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	c := Challenge{
		ID:        uuid.NewString(),
		Phone:     phone,
		ExpiresAt: s.clock().Add(ttl),
	}
	issued := Issued{ChallengeID: c.ID, ExpiresAt: c.ExpiresAt, Mode: s.mode()}

	if s.mode() == ModeStrict {
		gen := s.newCode
		if gen == nil {
			gen = randomCode
		}
		code, err := gen()
		if err != nil {
			return Issued{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return Issued{}, fmt.Errorf("hash code: %w", err)
		}
		c.CodeHash = hash
		fields := map[string]any{"challenge_id": c.ID, "phone_suffix": phone[len(phone)-4:]}
		if s.Env != "production" {
			fields["code"] = code
		}
		telemetry.Info("onboarding.otp.issued", fields)
	} else {
		issued.Hint = "Enter any 6 digits to continue."
	}

	if err := s.Store.Put(ctx, c); err != nil {
		return Issued{}, err
	}
	return issued, nil
}

// VerifyOTP checks code against the challenge and marks it verified.
func (s *Service) VerifyOTP(ctx context.Context, challengeID, code string) error {
	code = strings.TrimSpace(code)
	if err := validatorInstance().Var(code, "required,len=6,numeric"); err != nil {
		return &FieldError{Field: "code", Message: "enter the 6-digit code"}
	}
	c, err := s.Store.Get(ctx, strings.TrimSpace(challengeID))
	if err != nil {
		return err
	}
	if !s.clock().Before(c.ExpiresAt) {
		_ = s.Store.Delete(ctx, c.ID)
		return ErrChallengeNotFound
	}
	if c.Verified {
		return nil
	}
	strict := s.mode() == ModeStrict
	match := !strict || bcrypt.CompareHashAndPassword(c.CodeHash, []byte(code)) == nil

	// The attempt limit is checked and the counter bumped in one store update,
	// so concurrent guesses cannot exceed MaxAttempts.
	updated, err := s.Store.Update(ctx, c.ID, func(cur *Challenge) error {
		if cur.Verified {
			return nil
		}
		if strict && cur.Attempts >= MaxAttempts {
			return ErrTooManyAttempts
		}
		if !match {
			cur.Attempts++
			return nil
		}
		cur.Verified = true
		return nil
	})
	if err != nil {
		return err
	}
	if updated.Verified {
		return nil
	}
	if updated.Attempts >= MaxAttempts {
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

// CreateProfile validates the form and issues a session for subject. An
// empty subject allocates a new user id.
func (s *Service) CreateProfile(ctx context.Context, subject string, p Profile) (Session, error) {
	p.Name = strings.Join(strings.Fields(p.Name), " ")
	p.DateOfBirth = strings.TrimSpace(p.DateOfBirth)
	p.Phone = normalizePhone(p.Phone)
	p.ChallengeID = strings.TrimSpace(p.ChallengeID)

	if err := validatorInstance().Struct(p); err != nil {
		return Session{}, profileFieldError(err)
	}
	dob, _ := time.Parse("2006-01-02", p.DateOfBirth)
	if !dob.Before(s.clock()) {
		return Session{}, &FieldError{Field: "dateOfBirth", Message: "date of birth must be in the past"}
	}

	c, err := s.Store.Get(ctx, p.ChallengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return Session{}, ErrPhoneNotVerified
		}
		return Session{}, err
	}
	if !c.Verified || c.Phone != p.Phone {
		return Session{}, ErrPhoneNotVerified
	}

	if subject == "" {
		subject = "user:" + uuid.NewString()
	}
	ttl := s.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.SignJWT(auth.Claims{Sub: subject, Name: p.Name, Phone: p.Phone}, ttl)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	_ = s.Store.Delete(ctx, c.ID)

	telemetry.Info("onboarding.profile.created", map[string]any{"user_id": subject})
	return Session{
		Token:     token,
		ExpiresAt: s.clock().Add(ttl),
		UserID:    subject,
		Name:      p.Name,
		Phone:     p.Phone,
	}, nil
}

func (s *Service) mode() Mode {
	if s.Mode == ModeStrict {
		return ModeStrict
	}
	return ModePlaceholder
}

var profileMessages = map[string]*FieldError{
	"Name":        {Field: "name", Message: "name must be at least 2 characters"},
	"DateOfBirth": {Field: "dateOfBirth", Message: "enter a date of birth as YYYY-MM-DD"},
	"Phone":       {Field: "phone", Message: "enter a 10-digit phone number"},
	"ChallengeID": {Field: "challengeId", Message: "Please verify your phone number before continuing."},
}

func profileFieldError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if fe, ok := profileMessages[verrs[0].StructField()]; ok {
			return &FieldError{Field: fe.Field, Message: fe.Message}
		}
		return &FieldError{Field: verrs[0].Field(), Message: verrs[0].Tag()}
	}
	return err
}

// normalizePhone strips spaces, dashes and an Indian country prefix.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 12 && strings.HasPrefix(digits, "91") {
		digits = digits[2:]
	}
	return digits
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
