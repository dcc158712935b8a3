package ingest

import (
	"testing"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

func TestNormalize_BodySelection(t *testing.T) {
	tests := []struct {
		name     string
		payload  *out.MessagePart
		wantBody string
		wantType domain.BodyType
	}{
		{
			name: "plain preferred over html",
			payload: &out.MessagePart{MimeType: "multipart/alternative", Parts: []*out.MessagePart{
				{MimeType: "text/html", Data: []byte("<p>hi</p>")},
				{MimeType: "text/plain; charset=utf-8", Data: []byte("hi")},
			}},
			wantBody: "hi",
			wantType: domain.BodyTypeText,
		},
		{
			name: "html kept with markup",
			payload: &out.MessagePart{MimeType: "multipart/mixed", Parts: []*out.MessagePart{
				{MimeType: "multipart/related", Parts: []*out.MessagePart{
					{MimeType: "text/html", Data: []byte("<b>sale</b>")},
				}},
				{MimeType: "text/plain", Filename: "notes.txt", Data: []byte("attachment")},
			}},
			wantBody: "<b>sale</b>",
			wantType: domain.BodyTypeHTML,
		},
		{
			name:     "snippet when no body part",
			payload:  &out.MessagePart{MimeType: "multipart/mixed"},
			wantBody: "preview",
			wantType: domain.BodyTypeSnippet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Normalize("u1", domain.ProviderGmail, &out.ProviderMessage{
				ID:      "p1",
				Snippet: "preview",
				Payload: tt.payload,
			})
			if m.Body != tt.wantBody || m.BodyType != tt.wantType {
				t.Errorf("body = %q (%s), want %q (%s)", m.Body, m.BodyType, tt.wantBody, tt.wantType)
			}
			if !m.ContentLoaded {
				t.Error("ContentLoaded = false")
			}
		})
	}
}

func TestNormalize_Headers(t *testing.T) {
	m := Normalize("u1", domain.ProviderGmail, &out.ProviderMessage{
		ID: "p1",
		Headers: []out.Header{
			{Name: "from", Value: `"NPTEL Team" <NoReply@NPTEL.ac.in>`},
			{Name: "To", Value: "a@example.com, B <b@example.com>"},
			{Name: "Subject", Value: "=?UTF-8?Q?Assignment_due?="},
			{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
		},
	})

	if m.Sender != "noreply@nptel.ac.in" || m.SenderName != "NPTEL Team" {
		t.Errorf("sender = %q / %q", m.Sender, m.SenderName)
	}
	if m.Recipient != "a@example.com, b@example.com" {
		t.Errorf("Recipient = %q", m.Recipient)
	}
	if m.Subject != "Assignment due" {
		t.Errorf("Subject = %q", m.Subject)
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !m.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, want)
	}
	if m.Classification != nil || m.Label != "" {
		t.Error("Normalize must not classify")
	}
}
