package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"finnscout/internal/config"
)

// IMAPSource reads alert emails from an IMAP folder.
type IMAPSource struct {
	c      *client.Client
	folder string
	log    *slog.Logger
}

var _ Source = (*IMAPSource)(nil)

// Connect dials the configured IMAP server over TLS, logs in and selects
// the folder. logger may be nil.
func Connect(cfg config.EmailCfg, logger *slog.Logger) (*IMAPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing imap server %s: %w", addr, err)
	}

	if err := c.Login(cfg.Username, config.ResolveEnvVars(cfg.Password)); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login for %s: %w", cfg.Username, err)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("selecting folder %s: %w", folder, err)
	}

	logger.Debug("imap connected", "server", addr, "folder", folder)
	return &IMAPSource{c: c, folder: folder, log: logger}, nil
}

// Fetch searches the folder for messages since daysBack days ago and
// downloads their bodies. Subject and seen-state filtering happen
// client-side via Filter.
func (s *IMAPSource) Fetch(ctx context.Context, daysBack int, subjectKeywords []string, includeSeen bool) ([]Message, error) {
	since := time.Now().AddDate(0, 0, -daysBack)

	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, ch)
	}()

	var msgs []Message
	for msg := range ch {
		select {
		case <-ctx.Done():
			// Drain so the fetch goroutine can finish.
			for range ch {
			}
			<-done
			return nil, ctx.Err()
		default:
		}

		m, err := s.decode(msg, section)
		if err != nil {
			s.log.Warn("skipping undecodable message", "uid", msg.Uid, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	filtered := Filter(msgs, since, subjectKeywords, includeSeen)
	s.log.Info("fetched alert emails",
		"folder", s.folder, "searched", len(msgs), "matched", len(filtered))
	return filtered, nil
}

// decode pulls the subject, date, flags and HTML part out of one message.
func (s *IMAPSource) decode(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	out := Message{UID: msg.Uid}
	if msg.Envelope != nil {
		out.Subject = msg.Envelope.Subject
		out.Date = msg.Envelope.Date
	}
	for _, f := range msg.Flags {
		if f == imap.SeenFlag {
			out.Seen = true
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return out, fmt.Errorf("message %d has no body section", msg.Uid)
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return out, fmt.Errorf("opening mime reader: %w", err)
	}

	var htmlPart, textPart string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("reading mime part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, err := header.ContentType()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.EqualFold(ctype, "text/html"):
			htmlPart = string(data)
		case strings.EqualFold(ctype, "text/plain") && textPart == "":
			textPart = string(data)
		}
	}

	if htmlPart != "" {
		out.HTML = htmlPart
	} else {
		out.HTML = textPart
	}
	return out, nil
}

// MarkProcessed sets the seen flag on the given messages.
func (s *IMAPSource) MarkProcessed(_ context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := s.c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("marking %d messages seen: %w", len(uids), err)
	}
	return nil
}

// Close logs out.
func (s *IMAPSource) Close() error {
	return s.c.Logout()
}
