package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/metrics"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// UseTLS dials with implicit TLS first, falling back to STARTTLS. Gmail
	// and most hosted providers require one of the two.
	UseTLS bool
}

// SMTPSender delivers messages over SMTP as multipart/alternative MIME with
// a text and an HTML part.
type SMTPSender struct {
	cfg    Config
	logger *zap.Logger
}

// NewSMTPSender validates the config and builds a sender.
func NewSMTPSender(cfg Config, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp.host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp.from is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

// Send builds the MIME message and delivers it. The SMTP dialog runs on a
// separate goroutine so ctx cancellation returns promptly even though the
// smtp package itself is not context-aware.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (Delivery, error) {
	if msg.To == "" {
		return Delivery{}, fmt.Errorf("recipient is required")
	}
	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.cfg.Host)
	raw, err := s.buildMIME(msg, messageID)
	if err != nil {
		return Delivery{}, err
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.deliver(msg.To, raw)
	}()
	select {
	case <-ctx.Done():
		return Delivery{}, fmt.Errorf("send report: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Delivery{}, fmt.Errorf("send report: %w", err)
		}
	}
	metrics.ObserveReportDelivery(time.Since(start))

	s.logger.Info("report delivered",
		zap.String("to", msg.To),
		zap.String("message_id", messageID),
	)
	return Delivery{MessageID: messageID, Status: StatusSent}, nil
}

func (s *SMTPSender) buildMIME(msg Message, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	var header mail.Header
	header.SetDate(time.Now().UTC())
	header.SetAddressList("From", []*mail.Address{{Name: s.cfg.FromName, Address: s.cfg.From}})
	header.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	header.SetSubject(msg.Subject)
	header.SetMessageID(messageID)

	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create alternative part: %w", err)
	}
	// Text part first so clients prefer the HTML alternative.
	if err := writeInlinePart(iw, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if err := writeInlinePart(iw, "text/html", msg.HTML); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("close alternative part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	if body == "" {
		return nil
	}
	var header mail.InlineHeader
	header.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	part, err := iw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(part, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return part.Close()
}

func (s *SMTPSender) deliver(to string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if s.cfg.UseTLS {
		if err := s.deliverTLS(addr, auth, to, raw); err != nil {
			return s.deliverSTARTTLS(addr, auth, to, raw)
		}
		return nil
	}
	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, raw)
}

func (s *SMTPSender) deliverTLS(addr string, auth smtp.Auth, to string, raw []byte) error {
	host := strings.Split(addr, ":")[0]
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("dial tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()
	return s.transact(client, auth, to, raw)
}

func (s *SMTPSender) deliverSTARTTLS(addr string, auth smtp.Auth, to string, raw []byte) error {
	host := strings.Split(addr, ":")[0]
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	return s.transact(client, auth, to, raw)
}

func (s *SMTPSender) transact(client *smtp.Client, auth smtp.Auth, to string, raw []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}
