package mailsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"
)

// pop3Source fetches mail over POP3/POP3S. POP3 has no unseen flag, so
// every message is returned and the caller dedups against its
// known-message index.
type pop3Source struct {
	desc   Descriptor
	logger *slog.Logger
	conn   *pop3client.Conn
}

func newPOP3Source(d Descriptor, logger *slog.Logger) *pop3Source {
	return &pop3Source{desc: d, logger: logger}
}

// Connect opens the connection and authenticates.
func (s *pop3Source) Connect(ctx context.Context) error {
	if s.conn != nil {
		return &ConnError{Code: CodeIllegalState, Source: s.desc.Name,
			Err: fmt.Errorf("source already connected")}
	}

	client := pop3client.New(pop3client.Opt{
		Host:        s.desc.Host,
		Port:        s.desc.Port,
		TLSEnabled:  isTLS(s.desc.Protocol),
		DialTimeout: s.desc.Timeout,
	})
	conn, err := client.NewConn()
	if err != nil {
		return classify(s.desc.Name, err)
	}

	if err := conn.Auth(s.desc.Username, s.desc.Password); err != nil {
		conn.Quit()
		return authError(s.desc.Name, err)
	}

	s.conn = conn
	return nil
}

// FetchUnseen retrieves up to max messages from the maildrop.
func (s *pop3Source) FetchUnseen(ctx context.Context, max int) ([]RawMessage, error) {
	if s.conn == nil {
		return nil, &ConnError{Code: CodeIllegalState, Source: s.desc.Name,
			Err: fmt.Errorf("source not connected")}
	}

	list, err := s.conn.List(0)
	if err != nil {
		return nil, classify(s.desc.Name, err)
	}
	if max > 0 && len(list) > max {
		list = list[:max]
	}

	messages := make([]RawMessage, 0, len(list))
	for _, item := range list {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		rawBuf, err := s.conn.RetrRaw(item.ID)
		if err != nil {
			s.logger.Warn("pop3 retrieve failed, skipping",
				slog.String("source", s.desc.Name),
				slog.Int("msg", item.ID),
				slog.String("error", err.Error()))
			continue
		}
		raw := rawBuf.Bytes()

		msgID := extractMessageID(raw)
		if msgID == "" && item.UID != "" {
			msgID = fmt.Sprintf("pop3-uid-%s-%s", item.UID, s.desc.Username)
		}
		messages = append(messages, RawMessage{ID: msgID, Raw: raw})
	}

	s.logger.Info("fetched messages",
		slog.String("source", s.desc.Name),
		slog.Int("count", len(messages)))
	return messages, nil
}

// Close sends QUIT and releases the connection.
func (s *pop3Source) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	return conn.Quit()
}

// checkPOP3 counts messages in the maildrop without starting a session.
func checkPOP3(ctx context.Context, d Descriptor, logger *slog.Logger) (int, error) {
	src := newPOP3Source(d, logger)
	if err := src.Connect(ctx); err != nil {
		return -1, err
	}
	defer src.Close()

	count, _, err := src.conn.Stat()
	if err != nil {
		return -1, classify(d.Name, err)
	}
	return count, nil
}

// extractMessageID parses the Message-ID header from raw mail bytes.
func extractMessageID(raw []byte) string {
	reader, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return ""
	}
	defer reader.Close()
	return strings.Trim(reader.Header.Get("Message-Id"), "<> ")
}
