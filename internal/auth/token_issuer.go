package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour

	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingDatabase      = errors.New("database handle must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")

	// ErrInvalidToken indicates a malformed, expired, or mis-typed token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenRevoked indicates the refresh token was already blacklisted.
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// TokenPair bundles the access and refresh tokens issued on login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type tokenClaims struct {
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the JWT issuer and its blacklist storage.
type TokenIssuerConfig struct {
	Database      *gorm.DB
	SigningSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues HS256 access/refresh token pairs and tracks revocations.
type TokenIssuer struct {
	db            *gorm.DB
	signingSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &TokenIssuer{
		db:            cfg.Database,
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clock,
	}, nil
}

// IssuePair produces a signed access/refresh pair for the given user.
func (i *TokenIssuer) IssuePair(_ context.Context, userID string) (TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	now := i.clock().UTC()

	access, err := i.sign(userID, tokenUseAccess, "", now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(userID, tokenUseRefresh, jti.String(), now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// ValidateAccess ensures the access token is well formed and returns the subject.
func (i *TokenIssuer) ValidateAccess(tokenString string) (string, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.TokenUse != tokenUseAccess {
		return "", fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Refresh validates the refresh token against the blacklist and issues a new
// access token for its subject.
func (i *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := i.parseRefresh(refreshToken)
	if err != nil {
		return "", 0, err
	}

	revoked, err := i.isRevoked(ctx, claims.ID)
	if err != nil {
		return "", 0, err
	}
	if revoked {
		return "", 0, ErrTokenRevoked
	}

	now := i.clock().UTC()
	access, err := i.sign(claims.Subject, tokenUseAccess, "", now, i.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(i.accessTTL.Seconds()), nil
}

// Revoke blacklists the refresh token so it can no longer be exchanged.
func (i *TokenIssuer) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := i.parseRefresh(refreshToken)
	if err != nil {
		return err
	}

	revoked, err := i.isRevoked(ctx, claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}

	record := RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	return i.db.WithContext(ctx).Create(&record).Error
}

func (i *TokenIssuer) sign(subject, use, jti string, now time.Time, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingSecret)
}

func (i *TokenIssuer) parse(tokenString string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) parseRefresh(tokenString string) (*tokenClaims, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing token id", ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) isRevoked(ctx context.Context, jti string) (bool, error) {
	var count int64
	err := i.db.WithContext(ctx).Model(&RevokedToken{}).
		Where("jti = ?", jti).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
