package signing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odonto/odonto/internal/domain/canonical"
	"github.com/odonto/odonto/internal/domain/records"
	"github.com/odonto/odonto/internal/platform/notification"
	"github.com/odonto/odonto/internal/platform/throttle"
)

const tokenPurpose = "otp_verified"

// OTPConfig carries the challenge lifecycle tunables.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	TokenTTL    time.Duration
	Issuer      string
	SigningKey  []byte
	ClinicName  string
}

// sendLimiter is the slice of throttle.Limiter the send path needs.
type sendLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// OTPService runs the challenge lifecycle: code issue and delivery, code
// verification, token minting and single-use redemption.
type OTPService struct {
	cfg        OTPConfig
	challenges ChallengeRepository
	patients   records.PatientRepository
	sender     notification.EmailSender
	templates  *notification.TemplateEngine
	limiter    sendLimiter
	logger     zerolog.Logger
	now        func() time.Time
}

func NewOTPService(cfg OTPConfig, challenges ChallengeRepository, patients records.PatientRepository,
	sender notification.EmailSender, templates *notification.TemplateEngine, limiter *throttle.Limiter,
	logger zerolog.Logger) *OTPService {
	s := &OTPService{
		cfg:        cfg,
		challenges: challenges,
		patients:   patients,
		sender:     sender,
		templates:  templates,
		logger:     logger,
		now:        time.Now,
	}
	if limiter != nil {
		s.limiter = limiter
	}
	return s
}

// SendRequest asks for a verification code for one record.
type SendRequest struct {
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	RecordType  canonical.RecordType
	RecordID    uuid.UUID
	RequestedBy string
	RequestIP   string
	UserAgent   string
}

// SendResult is what the UI needs to run the verification dialog.
type SendResult struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	AttemptsLeft int       `json:"attempts_left"`
	EmailMasked  string    `json:"email_masked"`
	IsMinor      bool      `json:"is_minor"`
}

// Send resolves the destination, issues a fresh challenge and delivers the
// code. Previously open challenges for the same record are invalidated.
func (s *OTPService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if !canonical.ValidRecordType(req.RecordType) {
		return nil, fmt.Errorf("%w: %q", canonical.ErrUnknownRecordType, req.RecordType)
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "otp-send:"+req.RequestedBy)
		switch {
		case err != nil:
			// Fail open, but make a dead throttle backend visible.
			s.logger.Warn().Err(err).Msg("otp send throttle unavailable, failing open")
		case !ok:
			return nil, ErrThrottled
		}
	}

	patient, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	isMinor := patient.IsMinor(now)
	destination := patient.OTPDestination(now)
	if destination == "" {
		return nil, &NoDestinationError{PatientName: patient.FullName}
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	if err := s.challenges.ExpireOpenForRecord(ctx, req.RecordType, req.RecordID); err != nil {
		return nil, fmt.Errorf("expire open challenges: %w", err)
	}

	challenge := &Challenge{
		ClinicID:    req.ClinicID,
		PatientID:   req.PatientID,
		RecordType:  req.RecordType,
		RecordID:    req.RecordID,
		CodeHash:    hashCode(code),
		Destination: destination,
		Masked:      MaskEmail(destination),
		Status:      ChallengeSent,
		MaxAttempts: s.cfg.MaxAttempts,
		ExpiresAt:   now.Add(s.cfg.TTL),
		RequestIP:   req.RequestIP,
		UserAgent:   req.UserAgent,
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	templateID := "otp-code"
	if isMinor {
		templateID = "otp-code-guardian"
	}
	subject, body, err := s.templates.Render(templateID, map[string]string{
		"clinic_name":  s.cfg.ClinicName,
		"patient_name": patient.FullName,
		"code":         code,
		"ttl_minutes":  strconv.Itoa(int(s.cfg.TTL.Minutes())),
	})
	if err != nil {
		return nil, fmt.Errorf("render code email: %w", err)
	}

	if err := s.sender.SendEmail(ctx, destination, subject, body); err != nil {
		// The code never reached the patient; do not leave the challenge
		// open for guessing.
		_ = s.challenges.MarkExpired(ctx, challenge.ID)
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return &SendResult{
		ChallengeID:  challenge.ID,
		ExpiresAt:    challenge.ExpiresAt,
		AttemptsLeft: challenge.MaxAttempts,
		EmailMasked:  challenge.Masked,
		IsMinor:      isMinor,
	}, nil
}

// VerifyResult carries the short-lived token that authorizes one signature.
type VerifyResult struct {
	Token     string    `json:"otp_verified_token"`
	ExpiresAt time.Time `json:"token_expires_at"`
}

// Verify checks a submitted code against the challenge, with atomic attempt
// accounting. A correct code transitions the challenge to verified and mints
// the signing token.
func (s *OTPService) Verify(ctx context.Context, challengeID uuid.UUID, code string) (*VerifyResult, error) {
	challenge, err := s.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	switch challenge.Status {
	case ChallengeVerified, ChallengeConsumed:
		return nil, fmt.Errorf("%w: code already used", ErrOtpRequired)
	case ChallengeLocked:
		return nil, ErrLocked
	case ChallengeExpired:
		return nil, ErrExpired
	}

	now := s.now()
	if now.After(challenge.ExpiresAt) {
		_ = s.challenges.MarkExpired(ctx, challenge.ID)
		return nil, ErrExpired
	}
	if challenge.Attempts >= challenge.MaxAttempts {
		return nil, ErrLocked
	}

	submitted := hashCode(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(challenge.CodeHash)) != 1 {
		attempts, locked, err := s.challenges.RegisterFailedAttempt(ctx, challenge.ID)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, ErrLocked
		}
		return nil, &IncorrectCodeError{AttemptsLeft: challenge.MaxAttempts - attempts}
	}

	ok, err := s.challenges.MarkVerified(ctx, challenge.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another verify or an expiry sweep.
		return nil, fmt.Errorf("%w: challenge no longer open", ErrOtpRequired)
	}

	expiresAt := now.Add(s.cfg.TokenTTL)
	token, err := s.mintToken(challenge, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	return &VerifyResult{Token: token, ExpiresAt: expiresAt}, nil
}

// TokenClaims are the claims of the short-lived verification token.
type TokenClaims struct {
	jwt.RegisteredClaims
	PatientID  string `json:"patient_id"`
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
	Purpose    string `json:"purpose"`
}

func (s *OTPService) mintToken(c *Challenge, now, expiresAt time.Time) (string, error) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.ID.String(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PatientID:  c.PatientID.String(),
		RecordType: string(c.RecordType),
		RecordID:   c.RecordID.String(),
		Purpose:    tokenPurpose,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

// CheckToken validates a verification token and cross-checks it against the
// record and patient it is being spent on. Returns the challenge ID.
func (s *OTPService) CheckToken(tokenStr string, patientID uuid.UUID, recordType canonical.RecordType, recordID uuid.UUID) (uuid.UUID, error) {
	claims := &TokenClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", ErrOtpRequired)
	}

	if claims.Purpose != tokenPurpose ||
		claims.PatientID != patientID.String() ||
		claims.RecordType != string(recordType) ||
		claims.RecordID != recordID.String() {
		return uuid.Nil, fmt.Errorf("%w: token does not match record", ErrOtpRequired)
	}

	challengeID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid token subject", ErrOtpRequired)
	}
	return challengeID, nil
}

// Redeem spends a verified challenge. A challenge redeems exactly once.
func (s *OTPService) Redeem(ctx context.Context, challengeID uuid.UUID) (*Challenge, error) {
	ok, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: verification already spent", ErrOtpRequired)
	}
	return s.challenges.GetByID(ctx, challengeID)
}

// generateCode draws a uniform 6-digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// MaskEmail hides most of an address's local part: the first two characters
// survive, followed by at least three asterisks and the domain. Malformed
// addresses mask fully.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]

	visible := local
	if len(visible) > 2 {
		visible = visible[:2]
	}
	stars := len(local) - 2
	if stars < 3 {
		stars = 3
	}
	return visible + strings.Repeat("*", stars) + "@" + domain
}
