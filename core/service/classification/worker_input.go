package classification

import (
	"html"
	"regexp"
	"strings"

	"mailsort_server/core/domain"
)

// Input is what both phases look at. Classification never sees the message itself.
type Input struct {
	Sender     string
	SenderName string
	Subject    string
	Body       string
}

// InputFromMessage builds classifier input; HTML bodies are reduced to text.
func InputFromMessage(m *domain.Message) *Input {
	body := m.BestBody()
	if m.BodyType == domain.BodyTypeHTML && m.ContentLoaded {
		body = StripHTML(body)
	}
	return &Input{
		Sender:     m.Sender,
		SenderName: m.SenderName,
		Subject:    m.Subject,
		Body:       body,
	}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML removes markup, decodes entities and collapses whitespace.
func StripHTML(raw string) string {
	text := scriptTagRe.ReplaceAllString(raw, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00A0", " ")

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
