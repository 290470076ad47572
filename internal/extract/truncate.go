package extract

// Storage capacity limits applied to every textual field before it is
// handed to the persistence layer.
const (
	MaxShortField = 254
	MaxLongField  = 65499
)

// TruncateShort bounds identifier and subject fields.
func TruncateShort(s string) string {
	return truncate(s, MaxShortField)
}

// TruncateLong bounds free-text fields such as bodies and address lists.
func TruncateLong(s string) string {
	return truncate(s, MaxLongField)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so truncation never produces invalid UTF-8.
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// Bound applies the field-length policy to a parsed mail in place.
func Bound(m *Mail) {
	m.MessageID = TruncateShort(m.MessageID)
	m.Subject = TruncateShort(m.Subject)
	m.TopicID = TruncateShort(m.TopicID)
	m.TopicSubject = TruncateShort(m.TopicSubject)
	m.DateHeader = TruncateShort(m.DateHeader)
	m.InReplyTo = TruncateLong(m.InReplyTo)
	m.References = TruncateLong(m.References)
	m.From = TruncateLong(m.From)
	m.To = TruncateLong(m.To)
	m.Cc = TruncateLong(m.Cc)
	if m.Content != nil {
		m.Content.Text = TruncateLong(m.Content.Text)
		m.Content.HTML = TruncateLong(m.Content.HTML)
	}
}
