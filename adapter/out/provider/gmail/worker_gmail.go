// Package gmail provides the Gmail API mail provider.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/gateway"
	"mailsort_server/pkg/metrics"
	"mailsort_server/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const providerName = "gmail"

// Config holds Gmail configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	QPS          float64 // per-process request rate against the Gmail API
}

// Provider implements out.MailProvider for Gmail.
type Provider struct {
	oauth   *oauth2.Config
	gw      *gateway.Gateway
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger

	// newService builds an API client for one user's token.
	newService func(ctx context.Context, token *oauth2.Token) (*gmail.Service, error)
}

// NewProvider creates a Gmail provider. Every call holds a mail-provider
// gateway token and passes the rate limiter and circuit breaker.
func NewProvider(cfg Config, gw *gateway.Gateway, log zerolog.Logger) *Provider {
	if cfg.QPS <= 0 {
		cfg.QPS = 40
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		gw:      gw,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), int(cfg.QPS)+1),
		log:     log.With().Str("component", "gmail").Logger(),
	}
	p.cb = resilience.NewBreaker("gmail-api", p.log)
	p.newService = func(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
		return gmail.NewService(ctx, option.WithTokenSource(p.oauth.TokenSource(ctx, token)))
	}
	return p
}

func (p *Provider) Name() domain.Provider {
	return domain.ProviderGmail
}

// =============================================================================
// Listing
// =============================================================================

func (p *Provider) ListMessageIDs(ctx context.Context, token *oauth2.Token, cursor string, pageSize int) (*out.MessagePage, error) {
	resp, err := call(ctx, p, "list", token, func(ctx context.Context, svc *gmail.Service) (*gmail.ListMessagesResponse, error) {
		req := svc.Users.Messages.List("me").MaxResults(int64(pageSize)).Context(ctx)
		if cursor != "" {
			req = req.PageToken(cursor)
		}
		return req.Do()
	})
	if err != nil {
		return nil, wrapError(err, "failed to list messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return &out.MessagePage{
		IDs:        ids,
		NextCursor: resp.NextPageToken,
		Estimate:   resp.ResultSizeEstimate,
	}, nil
}

func (p *Provider) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*out.ProviderMessage, error) {
	msg, err := call(ctx, p, "get", token, func(ctx context.Context, svc *gmail.Service) (*gmail.Message, error) {
		return svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, wrapError(err, "failed to get message")
	}
	return convertMessage(msg), nil
}

// =============================================================================
// Change Markers (historyId)
// =============================================================================

func (p *Provider) CurrentMarker(ctx context.Context, token *oauth2.Token) (string, error) {
	profile, err := call(ctx, p, "profile", token, func(ctx context.Context, svc *gmail.Service) (*gmail.Profile, error) {
		return svc.Users.GetProfile("me").Context(ctx).Do()
	})
	if err != nil {
		return "", wrapError(err, "failed to get profile")
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// ListChanges walks every history page after marker. A 404 means the
// marker is too old and the caller must run a bulk pass.
func (p *Provider) ListChanges(ctx context.Context, token *oauth2.Token, marker string) (*out.ChangeSet, error) {
	historyID, err := strconv.ParseUint(marker, 10, 64)
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrSyncRequired, "invalid history id", err, false)
	}

	result := &out.ChangeSet{NextMarker: marker}
	seen := make(map[string]bool)
	pageToken := ""

	for {
		resp, err := call(ctx, p, "history", token, func(ctx context.Context, svc *gmail.Service) (*gmail.ListHistoryResponse, error) {
			req := svc.Users.History.List("me").
				StartHistoryId(historyID).
				HistoryTypes("messageAdded", "messageDeleted").
				Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			return req.Do()
		})
		if err != nil {
			if isStatus(err, 404) {
				return nil, out.NewProviderError(providerName, out.ProviderErrSyncRequired, "Full sync required", err, false)
			}
			return nil, wrapError(err, "failed to get history")
		}

		// 추가된 메시지 ID 수집 (중복 제거)
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil && !seen[added.Message.Id] {
					seen[added.Message.Id] = true
					result.AddedIDs = append(result.AddedIDs, added.Message.Id)
				}
			}
			for _, deleted := range h.MessagesDeleted {
				if deleted.Message != nil {
					result.DeletedIDs = append(result.DeletedIDs, deleted.Message.Id)
				}
			}
		}
		if resp.HistoryId != 0 {
			result.NextMarker = strconv.FormatUint(resp.HistoryId, 10)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	// 추가 후 삭제된 메시지는 가져오지 않음
	if len(result.DeletedIDs) > 0 && len(result.AddedIDs) > 0 {
		deleted := make(map[string]bool, len(result.DeletedIDs))
		for _, id := range result.DeletedIDs {
			deleted[id] = true
		}
		kept := result.AddedIDs[:0]
		for _, id := range result.AddedIDs {
			if !deleted[id] {
				kept = append(kept, id)
			}
		}
		result.AddedIDs = kept
	}
	return result, nil
}

// =============================================================================
// Call plumbing
// =============================================================================

func call[T any](ctx context.Context, p *Provider, op string, token *oauth2.Token, fn func(ctx context.Context, svc *gmail.Service) (T, error)) (T, error) {
	return gateway.Do(ctx, p.gw, gateway.TargetMailProvider, func(ctx context.Context) (T, error) {
		var zero T
		if err := p.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		svc, err := p.newService(ctx, token)
		if err != nil {
			return zero, err
		}

		start := time.Now()
		defer metrics.ObserveCall(providerName, op, start)

		return resilience.Execute(p.cb, func() (T, error) {
			v, err := fn(ctx, svc)
			if err != nil && isClientError(err) {
				// 400/401/403/404 are not outages
				return v, resilience.NonTrip(err)
			}
			return v, err
		})
	})
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func isClientError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 400, 401, 403, 404:
		return true
	}
	return false
}

func wrapError(err error, defaultMsg string) error {
	if errors.Is(err, resilience.ErrOpen) {
		return out.NewProviderError(providerName, out.ProviderErrServer, "Circuit open", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError(providerName, out.ProviderErrAuth, "Token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError(providerName, out.ProviderErrAuth, "Access denied", err, false)
		case 404:
			return out.NewProviderError(providerName, out.ProviderErrNotFound, "Not found", err, false)
		case 429:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError(providerName, out.ProviderErrServer, "Server error", err, true)
		}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return out.NewProviderError(providerName, out.ProviderErrAuth, "Token refresh failed", err, false)
	}
	return out.NewProviderError(providerName, out.ProviderErrServer, defaultMsg, err, true)
}

// =============================================================================
// Conversion
// =============================================================================

func convertMessage(msg *gmail.Message) *out.ProviderMessage {
	pm := &out.ProviderMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		pm.Headers = convertHeaders(msg.Payload.Headers)
		pm.Payload = convertPart(msg.Payload)
	}
	return pm
}

func convertPart(part *gmail.MessagePart) *out.MessagePart {
	mp := &out.MessagePart{
		MimeType: part.MimeType,
		Filename: part.Filename,
		Headers:  convertHeaders(part.Headers),
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			mp.Data = data
		}
	}
	for _, child := range part.Parts {
		mp.Parts = append(mp.Parts, convertPart(child))
	}
	return mp
}

func convertHeaders(headers []*gmail.MessagePartHeader) []out.Header {
	result := make([]out.Header, 0, len(headers))
	for _, h := range headers {
		result = append(result, out.Header{Name: h.Name, Value: h.Value})
	}
	return result
}

// decodeBase64URL accepts padded and unpadded base64url.
func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return data, nil
}

var _ out.MailProvider = (*Provider)(nil)
