package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService emite y valida los tres tipos de credencial: access tokens
// JWT firmados, refresh tokens opacos y reset tokens opacos (guardados
// sólo como hash HMAC).
type TokenService struct {
	secret      []byte
	resetSecret []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	resetTTL    time.Duration
	issuer      string
}

type Claims struct {
	UserID    string `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

const (
	refreshTokenBytes = 40
	resetTokenBytes   = 20
)

func NewTokenService(secret, resetSecret string, accessTTL, refreshTTL, resetTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = 10 * time.Minute
	}
	if resetSecret == "" {
		resetSecret = secret
	}
	return &TokenService{
		secret:      []byte(secret),
		resetSecret: []byte(resetSecret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		resetTTL:    resetTTL,
		issuer:      "pursuitpal",
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }
func (s *TokenService) ResetTTL() time.Duration   { return s.resetTTL }

// SignAccessToken firma un access token de corta vida para el usuario.
func (s *TokenService) SignAccessToken(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrJWTInvalid
	}
	now := time.Now().UTC()
	claims := Claims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseAccessToken valida firma, expiración e issuer. La expiración se
// reporta aparte para que el cliente pueda disparar un refresh automático.
func (s *TokenService) ParseAccessToken(tokenString string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrJWTInvalid
	}

	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	if claims.TokenType != "access" {
		return Claims{}, ErrJWTInvalid
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

// NewRefreshToken genera un refresh token opaco. Se guarda en texto plano
// del lado del servidor porque se compara por igualdad, nunca se revierte.
func (s *TokenService) NewRefreshToken() (string, error) {
	return randomHex(refreshTokenBytes)
}

// NewResetToken genera un reset token opaco y devuelve también su hash;
// sólo el hash se persiste.
func (s *TokenService) NewResetToken() (plain, hash string, err error) {
	plain, err = randomHex(resetTokenBytes)
	if err != nil {
		return "", "", err
	}
	return plain, s.HashResetToken(plain), nil
}

// HashResetToken calcula el HMAC-SHA256 del token presentado.
func (s *TokenService) HashResetToken(token string) string {
	mac := hmac.New(sha256.New, s.resetSecret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *TokenService) isValidClaims(claims Claims) bool {
	if strings.TrimSpace(claims.UserID) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	return claims.Issuer == s.issuer
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
