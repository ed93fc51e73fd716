package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpired は資格情報がJWTであり、かつexpが過去の場合にtrueを返す。
// 署名は検証しない（検証は外部APIの責務）。JWTでない不透明トークンは常にfalse。
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
