package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
)

// SMTPConfig configures the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
}

// Transport hands a composed message to a mail server.
type Transport func(ctx context.Context, from, to string, msg []byte) error

// SMTPSender sends the code messages over SMTP.
type SMTPSender struct {
	cfg       SMTPConfig
	logger    *zap.Logger
	transport Transport
	now       func() time.Time
}

type Option func(*SMTPSender)

func WithLogger(logger *zap.Logger) Option {
	return func(s *SMTPSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTransport replaces the network transport.
func WithTransport(t Transport) Option {
	return func(s *SMTPSender) {
		if t != nil {
			s.transport = t
		}
	}
}

func NewSMTPSender(cfg SMTPConfig, opts ...Option) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail: SMTP host is required")
	}
	if !strings.Contains(cfg.From, "@") {
		return nil, errors.New("mail: From must be an email address")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	s := &SMTPSender{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	s.transport = s.dialAndSend
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SMTPSender) SendVerification(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.send(ctx, KindVerification, to, code, ttl)
}

func (s *SMTPSender) SendLoginCode(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.send(ctx, KindLoginCode, to, code, ttl)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.send(ctx, KindPasswordReset, to, code, ttl)
}

func (s *SMTPSender) send(ctx context.Context, kind Kind, to identity.Recipient, code string, ttl time.Duration) (res identity.MailResult) {
	defer func() {
		if r := recover(); r != nil {
			res = identity.MailResult{Err: fmt.Errorf("mail: panic during send: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return identity.MailResult{Err: err}
	}

	subject, body, err := Render(kind, to.Name, code, ttl)
	if err != nil {
		return identity.MailResult{Err: err}
	}

	messageID := "<" + uuid.NewString() + "@" + domainOf(s.cfg.From) + ">"
	msg := s.compose(to.Email, subject, body, messageID)

	if err := s.transport(ctx, s.cfg.From, to.Email, msg); err != nil {
		s.logger.Warn("smtp send failed",
			zap.String("kind", string(kind)),
			zap.String("to", MaskEmail(to.Email)),
			zap.Error(err),
		)
		return identity.MailResult{Err: err}
	}

	s.logger.Info("email sent",
		zap.String("kind", string(kind)),
		zap.String("to", MaskEmail(to.Email)),
		zap.String("message_id", messageID),
	)
	return identity.MailResult{Delivered: true, MessageID: messageID}
}

func (s *SMTPSender) compose(to, subject, body, messageID string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", s.cfg.From)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Message-ID", messageID)
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

func (s *SMTPSender) dialAndSend(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	if s.cfg.ImplicitTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func domainOf(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 && at < len(addr)-1 {
		return strings.TrimSuffix(addr[at+1:], ">")
	}
	return "localhost"
}
