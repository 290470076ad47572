// Package mailsource fetches raw mail from remote mailboxes over IMAP,
// IMAPS, POP3 or POP3S. Connection failures are classified into a fixed
// taxonomy so that a failing source never aborts an ingestion session.
package mailsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Supported protocols
const (
	ProtocolIMAP  = "imap"
	ProtocolIMAPS = "imaps"
	ProtocolPOP3  = "pop3"
	ProtocolPOP3S = "pop3s"
)

// DefaultTimeout bounds connect and fetch operations when the descriptor
// does not set one.
const DefaultTimeout = 30 * time.Second

// Descriptor identifies one remote mailbox to ingest from.
type Descriptor struct {
	Name        string        `yaml:"name"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Protocol    string        `yaml:"protocol"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Folder      string        `yaml:"folder"`
	MaxMessages int           `yaml:"max_messages"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Validate checks the descriptor and normalizes defaults.
func (d *Descriptor) Validate() error {
	if d.Host == "" || d.Port <= 0 || d.Port > 65535 {
		return &ConnError{Code: CodeInvalidPreferences, Source: d.Name,
			Err: fmt.Errorf("host and port are required")}
	}
	switch d.Protocol {
	case ProtocolIMAP, ProtocolIMAPS, ProtocolPOP3, ProtocolPOP3S:
	default:
		return &ConnError{Code: CodeInvalidPreferences, Source: d.Name,
			Err: fmt.Errorf("unsupported protocol %q", d.Protocol)}
	}
	if d.Folder == "" {
		d.Folder = "INBOX"
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	return nil
}

// RawMessage is one fetched message: the source-reported id (may be
// empty) and the full raw RFC 5322 bytes.
type RawMessage struct {
	ID  string
	Raw []byte
}

// Source is an open connection to one remote mailbox.
type Source interface {
	// Connect opens the connection and authenticates.
	Connect(ctx context.Context) error
	// FetchUnseen returns up to max not-yet-ingested messages in
	// mailbox order. POP3 has no unseen flag; there the caller dedups
	// against its known-message index.
	FetchUnseen(ctx context.Context, max int) ([]RawMessage, error)
	// Close releases the connection. Safe to call after a failed Connect.
	Close() error
}

// Open validates the descriptor and returns an unconnected source for
// its protocol.
func Open(d Descriptor, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Protocol {
	case ProtocolIMAP, ProtocolIMAPS:
		return newIMAPSource(d, logger), nil
	default:
		return newPOP3Source(d, logger), nil
	}
}

// Check connects to a source, counts messages waiting to be ingested and
// disconnects. It is independent of any ingestion session and intended
// for diagnostics.
func Check(ctx context.Context, d Descriptor, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.Validate(); err != nil {
		return -1, err
	}

	switch d.Protocol {
	case ProtocolIMAP, ProtocolIMAPS:
		return checkIMAP(ctx, d, logger)
	default:
		return checkPOP3(ctx, d, logger)
	}
}

// isTLS reports whether the protocol implies an implicit TLS connection.
func isTLS(protocol string) bool {
	return strings.HasSuffix(protocol, "s")
}
