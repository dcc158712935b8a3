package ingest

import (
	"mime"
	"net/mail"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

var headerDecoder = new(mime.WordDecoder)

// Normalize maps a provider message onto the canonical Message. Classification
// fields are left empty.
func Normalize(userID string, provider domain.Provider, pm *out.ProviderMessage) *domain.Message {
	sender, senderName := parseAddress(pm.Header("From"))

	ts := pm.InternalDate
	if ts.IsZero() {
		if d, err := mail.ParseDate(pm.Header("Date")); err == nil {
			ts = d
		} else {
			ts = time.Now()
		}
	}

	body, bodyType := selectBody(pm.Payload)
	if strings.TrimSpace(body) == "" {
		body, bodyType = pm.Snippet, domain.BodyTypeSnippet
	}

	now := time.Now()
	return &domain.Message{
		UserID:            userID,
		Provider:          provider,
		ProviderMessageID: pm.ID,
		ThreadID:          pm.ThreadID,
		Subject:           decodeHeader(pm.Header("Subject")),
		Sender:            sender,
		SenderName:        senderName,
		Recipient:         parseRecipients(pm.Header("To")),
		Timestamp:         ts.UTC(),
		Snippet:           pm.Snippet,
		Body:              body,
		BodyType:          bodyType,
		ContentLoaded:     true,
		ContentLoadedAt:   &now,
		RefinementStatus:  domain.RefinementPending,
		AnalysisDepth:     domain.AnalysisBasic,
	}
}

func decodeHeader(v string) string {
	if decoded, err := headerDecoder.DecodeHeader(v); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(v)
}

// parseAddress splits a From header into address and display name.
func parseAddress(raw string) (address, name string) {
	raw = decodeHeader(raw)
	if raw == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address), addr.Name
	}
	// "Name <addr>" with characters net/mail rejects
	if lt, gt := strings.LastIndex(raw, "<"), strings.LastIndex(raw, ">"); lt >= 0 && gt > lt {
		return strings.ToLower(strings.TrimSpace(raw[lt+1 : gt])), strings.Trim(strings.TrimSpace(raw[:lt]), `"`)
	}
	return strings.ToLower(raw), ""
}

func parseRecipients(raw string) string {
	raw = decodeHeader(raw)
	if raw == "" {
		return ""
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		return raw
	}
	addrs := make([]string, len(list))
	for i, a := range list {
		addrs[i] = strings.ToLower(a.Address)
	}
	return strings.Join(addrs, ", ")
}

// selectBody walks the part tree: text/plain first, then text/html.
// HTML is returned with its markup; classifiers strip it on read.
func selectBody(root *out.MessagePart) (string, domain.BodyType) {
	if root == nil {
		return "", ""
	}
	if text := findPart(root, "text/plain"); text != "" {
		return text, domain.BodyTypeText
	}
	if html := findPart(root, "text/html"); html != "" {
		return html, domain.BodyTypeHTML
	}
	return "", ""
}

func findPart(p *out.MessagePart, mimeType string) string {
	if p.Filename == "" && strings.HasPrefix(strings.ToLower(p.MimeType), mimeType) && len(p.Data) > 0 {
		return string(p.Data)
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}
