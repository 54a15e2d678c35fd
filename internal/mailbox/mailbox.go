// Package mailbox fetches Finn alert emails over IMAP. The Source interface
// keeps the pipeline testable without a mail server.
package mailbox

import (
	"context"
	"strings"
	"time"
)

// Message is one email relevant to the pipeline: its subject, when it
// arrived and the HTML body the parser consumes.
type Message struct {
	UID     uint32
	Subject string
	Date    time.Time
	HTML    string
	Seen    bool
}

// Source yields alert emails.
type Source interface {
	// Fetch returns messages received in the last daysBack days whose
	// subject matches any of the keywords (case-insensitive). When
	// includeSeen is false, messages already marked seen are filtered out.
	Fetch(ctx context.Context, daysBack int, subjectKeywords []string, includeSeen bool) ([]Message, error)
	// MarkProcessed flags messages as seen so the next run skips them.
	MarkProcessed(ctx context.Context, uids []uint32) error
	// Close releases the connection.
	Close() error
}

// MatchesSubject reports whether subject contains any keyword,
// case-insensitively. An empty keyword list matches everything.
func MatchesSubject(subject string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(subject)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Filter applies the subject, age and seen-state criteria to messages from
// any source. The IMAP search narrows by date server-side, but subject
// matching happens here; IMAP SUBJECT search is unreliable across providers
// for non-ASCII text.
func Filter(msgs []Message, since time.Time, keywords []string, includeSeen bool) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Date.Before(since) {
			continue
		}
		if !includeSeen && m.Seen {
			continue
		}
		if !MatchesSubject(m.Subject, keywords) {
			continue
		}
		out = append(out, m)
	}
	return out
}
