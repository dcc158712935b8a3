package middleware

import (
	"fmt"
	"strings"
	"time"

	"mailsort_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUserID is the fiber.Ctx local holding the authenticated user id.
const LocalUserID = "user_id"

// JWTAuth validates HS256 bearer tokens and stores the "sub" claim as the
// user id. The token may also come from ?token= because EventSource cannot
// set headers.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// CORS preflight
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return unauthorized(c, "missing authorization", "")
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return unauthorized(c, "invalid token", "")
		}

		// 1분 clock skew 허용
		if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && iat.After(time.Now().Add(time.Minute)) {
			return unauthorized(c, "token issued in the future", "INVALID_TOKEN_TIME")
		}

		userID, err := claims.GetSubject()
		if err != nil || userID == "" {
			return unauthorized(c, "missing user id in token", "")
		}

		c.Locals(LocalUserID, userID)
		if email, ok := claims["email"].(string); ok {
			c.Locals("user_email", email)
		}
		return c.Next()
	}
}

// ParseToken verifies signature and expiry.
func ParseToken(tokenString, secret string) (jwt.MapClaims, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for userID. Used by development routes.
func IssueToken(userID, email, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func unauthorized(c *fiber.Ctx, msg, code string) error {
	body := fiber.Map{"error": msg}
	if code != "" {
		body["code"] = code
	}
	return c.Status(fiber.StatusUnauthorized).JSON(body)
}
