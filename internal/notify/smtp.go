package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
	mail "github.com/xhit/go-simple-mail/v2"
)

// DefaultSMTPTimeout bounds the connect and the send phase of an SMTP session.
const DefaultSMTPTimeout = 30 * time.Second

// SMTPMailer sends pre-built MIME messages over implicit TLS (SMTPS) with PLAIN authentication.
type SMTPMailer struct {
	addr      string
	host      string
	port      int
	username  string
	password  string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// SMTPOption customises an SMTPMailer.
type SMTPOption func(*SMTPMailer)

// WithSMTPTimeout overrides the session timeout.
func WithSMTPTimeout(d time.Duration) SMTPOption {
	return func(m *SMTPMailer) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithTLSConfig replaces the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) SMTPOption {
	return func(m *SMTPMailer) {
		if cfg != nil {
			m.tlsConfig = cfg
		}
	}
}

// NewSMTPMailer builds a mailer for the configured server, authenticating as the sender.
func NewSMTPMailer(cfg sources.EmailConfig, opts ...SMTPOption) *SMTPMailer {
	m := &SMTPMailer{
		addr:     cfg.Addr(),
		host:     cfg.SMTPServer,
		port:     cfg.SMTPPort,
		username: cfg.SenderEmail,
		password: cfg.SenderPassword,
		timeout:  DefaultSMTPTimeout,
		tlsConfig: &tls.Config{
			ServerName: cfg.SMTPServer,
			MinVersion: tls.VersionTLS12,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send runs one SMTP session. A message accepted at the end of DATA is delivered: the session
// is then closed without looking at the QUIT reply, so a dropped QUIT never causes a resend.
func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if len(to) == 0 {
		return errors.New("smtp: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	client, err := m.server(timeout).Connect()
	if err != nil {
		return fmt.Errorf("smtp connect %s: %w", m.addr, err)
	}
	// Without keep-alive SendMessage ends the session itself (QUIT, then close) on every path.
	if err := mail.SendMessage(from, to, string(msg), client); err != nil {
		return fmt.Errorf("smtp send via %s: %w", m.addr, err)
	}
	return nil
}

func (m *SMTPMailer) server(timeout time.Duration) *mail.SMTPServer {
	server := mail.NewSMTPClient()
	server.Host = m.host
	server.Port = m.port
	server.Username = m.username
	server.Password = m.password
	server.Encryption = mail.EncryptionSSLTLS
	server.Authentication = mail.AuthPlain
	server.TLSConfig = m.tlsConfig
	server.ConnectTimeout = timeout
	server.SendTimeout = timeout
	server.KeepAlive = false
	return server
}
