package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
)

// ErrNoRecipients is returned when a message has no destination
var ErrNoRecipients = errors.New("送信先メールアドレスが指定されていません")

// SMTPConfig holds the mail server settings
// SMTP送信設定
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer implements batch.Mailer over plain SMTP
// SMTPによるメール送信
type SMTPMailer struct {
	cfg    SMTPConfig
	send   SendFunc
	logger *zap.Logger
	now    func() time.Time
}

var _ batch.Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates a new SMTP mailer
// SMTPメール送信を作成
func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPMailer{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger,
		now:    time.Now,
	}
}

// WithSendFunc replaces the transport, mainly for tests.
func (m *SMTPMailer) WithSendFunc(send SendFunc) *SMTPMailer {
	if send != nil {
		m.send = send
	}
	return m
}

// WithNow overrides the clock used for the Date header.
func (m *SMTPMailer) WithNow(now func() time.Time) *SMTPMailer {
	if now != nil {
		m.now = now
	}
	return m
}

// Send delivers a UTF-8 plain text message
// メールを送信
func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := m.buildMessage(recipients, subject, body)
	if err := m.send(addr, auth, m.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("メール送信に失敗しました: %w", err)
	}

	m.logger.Info("メールを送信しました",
		zap.String("subject", subject),
		zap.Strings("to", recipients),
	)
	return nil
}

func (m *SMTPMailer) buildMessage(to []string, subject, body string) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	header("From", m.cfg.From)
	header("To", strings.Join(to, ", "))
	header("Subject", mime.BEncoding.Encode("UTF-8", subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(body, "\n", "\r\n")))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
