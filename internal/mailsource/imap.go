package mailsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapSource fetches mail over IMAP/IMAPS.
type imapSource struct {
	desc   Descriptor
	logger *slog.Logger
	client *imapclient.Client
}

func newIMAPSource(d Descriptor, logger *slog.Logger) *imapSource {
	return &imapSource{desc: d, logger: logger}
}

// dial opens the TCP (or TLS) connection honoring the descriptor timeout.
func dialIMAP(ctx context.Context, d Descriptor) (*imapclient.Client, error) {
	addr := net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port))
	dialer := &net.Dialer{Timeout: d.Timeout}

	var conn net.Conn
	var err error
	if isTLS(d.Protocol) {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: d.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return imapclient.New(conn, nil), nil
}

// Connect opens the connection, authenticates and selects the folder.
func (s *imapSource) Connect(ctx context.Context) error {
	if s.client != nil {
		return &ConnError{Code: CodeIllegalState, Source: s.desc.Name,
			Err: fmt.Errorf("source already connected")}
	}

	client, err := dialIMAP(ctx, s.desc)
	if err != nil {
		return classify(s.desc.Name, err)
	}

	if err := client.Login(s.desc.Username, s.desc.Password).Wait(); err != nil {
		client.Close()
		return authError(s.desc.Name, err)
	}

	if _, err := client.Select(s.desc.Folder, nil).Wait(); err != nil {
		client.Logout().Wait()
		client.Close()
		return folderError(s.desc.Name, err)
	}

	s.client = client
	return nil
}

// FetchUnseen returns up to max unseen messages from the selected folder.
// Fetching without peek lets the server flag them seen, so the next pass
// only sees newer mail.
func (s *imapSource) FetchUnseen(ctx context.Context, max int) ([]RawMessage, error) {
	if s.client == nil {
		return nil, &ConnError{Code: CodeIllegalState, Source: s.desc.Name,
			Err: fmt.Errorf("source not connected")}
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, classify(s.desc.Name, err)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		s.logger.Info("no unseen messages", slog.String("source", s.desc.Name))
		return nil, nil
	}
	if max > 0 && len(seqNums) > max {
		seqNums = seqNums[:max]
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := s.client.Fetch(imap.SeqSetNum(seqNums...), fetchOptions).Collect()
	if err != nil {
		return nil, classify(s.desc.Name, err)
	}

	messages := make([]RawMessage, 0, len(buffers))
	for _, buf := range buffers {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		raw := buf.FindBodySection(bodySection)
		if len(raw) == 0 {
			s.logger.Warn("empty message body, skipping",
				slog.String("source", s.desc.Name),
				slog.Int("seq", int(buf.SeqNum)))
			continue
		}

		var msgID string
		if buf.Envelope != nil {
			msgID = buf.Envelope.MessageID
		}
		messages = append(messages, RawMessage{ID: msgID, Raw: raw})
	}

	s.logger.Info("fetched unseen messages",
		slog.String("source", s.desc.Name),
		slog.Int("count", len(messages)))
	return messages, nil
}

// Close logs out and releases the connection.
func (s *imapSource) Close() error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	client.Logout().Wait()
	return client.Close()
}

// checkIMAP counts unseen messages without starting a session.
func checkIMAP(ctx context.Context, d Descriptor, logger *slog.Logger) (int, error) {
	src := newIMAPSource(d, logger)
	if err := src.Connect(ctx); err != nil {
		return -1, err
	}
	defer src.Close()

	data, err := src.client.Status(d.Folder, &imap.StatusOptions{NumUnseen: true}).Wait()
	if err != nil {
		return -1, classify(d.Name, err)
	}
	if data.NumUnseen == nil {
		return 0, nil
	}
	return int(*data.NumUnseen), nil
}
