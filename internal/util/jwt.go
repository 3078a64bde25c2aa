package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the Supabase token claims we care about.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateJWT verifies a Supabase access token. keyMaterial is either the
// shared HMAC secret or a PEM-encoded public key; the algorithm is taken
// from the token header and the key material is interpreted accordingly.
func ValidateJWT(tokenString, keyMaterial string) (*Claims, error) {
	alg, err := tokenAlgorithm(tokenString)
	if err != nil {
		return nil, err
	}

	var keyFunc jwt.Keyfunc
	switch {
	case strings.HasPrefix(alg, "HS"):
		secret := []byte(keyMaterial)
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected HMAC)", token.Header["alg"])
			}
			return secret, nil
		}
	case strings.HasPrefix(alg, "RS"):
		pub, err := parsePublicKey(keyMaterial)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("key material is not an RSA public key")
		}
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected RSA)", token.Header["alg"])
			}
			return rsaPub, nil
		}
	case strings.HasPrefix(alg, "ES"):
		pub, err := parsePublicKey(keyMaterial)
		if err != nil {
			return nil, err
		}
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("key material is not an ECDSA public key")
		}
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected ECDSA)", token.Header["alg"])
			}
			return ecdsaPub, nil
		}
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func tokenAlgorithm(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token header: %w", err)
	}
	alg, ok := token.Header["alg"].(string)
	if !ok {
		return "", errors.New("token header missing 'alg' field")
	}
	return alg, nil
}

func parsePublicKey(pemKey string) (any, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}
