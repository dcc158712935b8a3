package bootstrap

import (
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/infra/middleware"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/logger"
	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	TTL    string `json:"ttl"` // Go duration, default 24h
}

type devConnectionRequest struct {
	UserID       string   `json:"user_id"`
	Provider     string   `json:"provider"`
	Email        string   `json:"email"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"` // seconds
	Scopes       []string `json:"scopes"`
}

// RegisterDevRoutes registers development-only routes without authentication.
// WARNING: Only enable in development environment!
func RegisterDevRoutes(app *fiber.App, deps *Dependencies) {
	dev := app.Group("/dev")
	secret := deps.Config.JWTSecret

	// 테스트용 JWT 발급 (user_id 없으면 새로 생성)
	dev.Post("/token", func(c *fiber.Ctx) error {
		var req devTokenRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return apperr.BadRequest("invalid request body")
			}
		}
		if req.UserID == "" {
			req.UserID = uuid.NewString()
		}
		ttl := 24 * time.Hour
		if req.TTL != "" {
			d, err := time.ParseDuration(req.TTL)
			if err != nil || d <= 0 {
				return apperr.InvalidInput("ttl", "must be a positive duration")
			}
			ttl = d
		}

		token, err := middleware.IssueToken(req.UserID, req.Email, secret, ttl)
		if err != nil {
			return apperr.InternalWithError(err)
		}

		logger.Info("[Dev] issued token for user=%s ttl=%v", req.UserID, ttl)
		return response.OK(c, fiber.Map{
			"user_id":    req.UserID,
			"token":      token,
			"expires_at": time.Now().Add(ttl).UTC(),
		})
	})

	// OAuth 흐름 없이 연결 정보 저장 (수동 토큰)
	dev.Post("/connections", func(c *fiber.Ctx) error {
		var req devConnectionRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
		if req.UserID == "" {
			return apperr.MissingField("user_id")
		}
		if req.AccessToken == "" && req.RefreshToken == "" {
			return apperr.MissingField("access_token")
		}

		provider := domain.Provider(strings.ToLower(req.Provider))
		if provider == "" || provider == "gmail" {
			provider = domain.ProviderGmail
		}
		if !provider.Valid() {
			return apperr.InvalidInput("provider", "unknown provider")
		}

		now := time.Now().UTC()
		conn := &domain.Connection{
			UserID:       req.UserID,
			Provider:     provider,
			Email:        req.Email,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			Scopes:       req.Scopes,
			IsConnected:  true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if req.ExpiresIn > 0 {
			conn.ExpiresAt = now.Add(time.Duration(req.ExpiresIn) * time.Second)
		}

		if err := deps.Connections.Save(c.UserContext(), conn); err != nil {
			return apperr.DatabaseError("save connection", err)
		}

		logger.Info("[Dev] saved %s connection for user=%s", provider, req.UserID)
		return response.Created(c, conn)
	})
}
