package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンが不正・期限切れ・改ざんされている場合のエラー。
var ErrInvalidToken = errors.New("auth: invalid token")

// AccessClaims はアクセストークンのクレーム。
// subにユーザーID、sidにリフレッシュセッションIDを持つ。
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles"`
}

// TokenIssuer はHS256で署名したアクセストークンを発行・検証する。
type TokenIssuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。secretはSESSION_SECRET。
func NewTokenIssuer(secret, issuer, audience string, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// AccessTTL はアクセストークンの有効期間を返す。
func (p *TokenIssuer) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess はユーザーとセッションに紐づくアクセストークンを発行する。
func (p *TokenIssuer) IssueAccess(userID, sessionID string, roles []string) (string, time.Time, error) {
	jti, err := randomHex(16)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate jti: %w", err)
	}
	now := p.now().UTC()
	expiresAt := now.Add(p.accessTTL)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
		Roles:     roles,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, expiresAt, nil
}

// ValidateAccess は署名、有効期限、iss、audを検証してクレームを返す。
func (p *TokenIssuer) ValidateAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken は不透明なリフレッシュトークンとそのハッシュを生成する。
// トークン本体はクライアントにのみ渡し、サーバーにはハッシュだけを保存する。
func NewRefreshToken() (token, hash string, err error) {
	token, err = randomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken はリフレッシュトークンのSHA-256ハッシュを16進文字列で返す。
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// randomHex は暗号的に安全なnバイトの乱数を16進文字列で返す。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
