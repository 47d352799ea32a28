package runner

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenAudience = "train-engine"
	tokenIssuer   = "tunekit-api"
)

// GenerateJobToken mints the short-lived token the training container uses
// to authenticate its report callbacks for one job.
func GenerateJobToken(jobID string, signingKey []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub": jobID,
		"aud": tokenAudience,
		"iss": tokenIssuer,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// VerifyJobToken validates a report callback token and returns the job id
// it was minted for.
func VerifyJobToken(tokenString string, signingKey []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid job token")
	}
	if !claims.VerifyAudience(tokenAudience, true) {
		return "", fmt.Errorf("job token has wrong audience")
	}
	jobID, _ := claims["sub"].(string)
	if jobID == "" {
		return "", fmt.Errorf("job token missing subject")
	}
	return jobID, nil
}
