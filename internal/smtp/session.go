package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-smtp"

	"github.com/danuarta/mailarchive-backend/internal/ingest"
	"github.com/danuarta/mailarchive-backend/internal/validator"
)

// Session implements the go-smtp Session interface
type Session struct {
	backend    *Backend
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend) *Session {
	return &Session{
		backend:    backend,
		recipients: make([]string, 0),
	}
}

// AuthPlain handles PLAIN authentication (not required for receiving)
func (s *Session) AuthPlain(username, password string) error {
	return nil
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	return nil
}

// Rcpt handles the RCPT TO command. When the backend carries an accepted
// recipient list, anything else is rejected.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	addr, err := normalizeAddress(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	if len(s.backend.recipients) > 0 {
		if _, ok := s.backend.recipients[addr]; !ok {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "Recipient not archived here",
			}
		}
	}

	s.recipients = append(s.recipients, addr)
	s.backend.logger.Debug("RCPT TO", slog.String("to", addr))
	return nil
}

// Data handles the DATA command and archives the message. A concurrently
// running ingestion session yields a temporary error so the sender
// retries later.
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to read message",
		}
	}

	if err := s.backend.archiver.ArchiveOne(context.Background(), raw); err != nil {
		if errors.Is(err, ingest.ErrSessionInProgress) {
			s.backend.logger.Info("deferring SMTP delivery, ingestion session running")
			return &smtp.SMTPError{
				Code:         450,
				EnhancedCode: smtp.EnhancedCode{4, 2, 1},
				Message:      "Archive busy, try again later",
			}
		}
		s.backend.logger.Error("failed to archive delivered message", slog.Any("error", err))
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 3, 0},
			Message:      "Failed to archive message",
		}
	}

	s.backend.logger.Info("message archived from SMTP delivery",
		slog.String("from", s.from),
		slog.Int("recipients", len(s.recipients)),
		slog.Int("size", len(raw)))
	return nil
}

// Reset resets the session state
func (s *Session) Reset() {
	s.from = ""
	s.recipients = make([]string, 0)
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}

// normalizeAddress strips angle brackets and lowercases an address.
func normalizeAddress(address string) (string, error) {
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.ToLower(strings.TrimSpace(address))

	if err := validator.ValidateEmail(address); err != nil {
		return "", fmt.Errorf("invalid email address %q: %w", address, err)
	}
	return address, nil
}
