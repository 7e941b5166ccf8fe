// Package identity turns session handshake credentials into verified user
// ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret. The user id
// comes from the user_id claim, falling back to sub.
type JWTVerifier struct {
	secret []byte
	issuer string
}

var _ interfaces.IdentityVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier. An empty issuer accepts any issuer.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify implements interfaces.IdentityVerifier. Every token problem maps
// to interfaces.ErrUnverified.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (string, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnverified, describe(err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid token or claims type", interfaces.ErrUnverified)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer", interfaces.ErrUnverified)
	}

	userID := claimString(claims["user_id"])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if !types.IsValidUserID(userID) {
		return "", fmt.Errorf("%w: token carries no usable user id", interfaces.ErrUnverified)
	}
	return userID, nil
}

// IssueToken signs a token for userID valid for ttl. Used by operators and
// tests; the server itself never issues tokens to clients.
func (v *JWTVerifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// claimString accepts string or numeric id claims.
func claimString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
	}
	return ""
}

func describe(err error) string {
	var validationErr *jwt.ValidationError
	if errors.As(err, &validationErr) {
		switch {
		case validationErr.Errors&jwt.ValidationErrorExpired != 0:
			return "token expired"
		case validationErr.Errors&jwt.ValidationErrorMalformed != 0:
			return "token malformed"
		case validationErr.Errors&jwt.ValidationErrorSignatureInvalid != 0:
			return "signature invalid"
		}
	}
	return err.Error()
}
