package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"memberportal/internal/config"
	"memberportal/internal/logging"
)

const defaultDialTimeout = 10 * time.Second

type Sender interface {
	SendPasswordReset(ctx context.Context, toEmail, token string) error
	SendAccountSetup(ctx context.Context, toEmail, token string) error
}

func NewSender(cfg config.Config, log logging.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			host:       cfg.SMTPHost,
			port:       cfg.SMTPPort,
			useTLS:     cfg.SMTPTLS,
			startTLS:   cfg.SMTPStartTLS,
			skipVerify: cfg.SMTPInsecureSkipVerify,
			user:       cfg.SMTPUser,
			pass:       cfg.SMTPPassword,
			from:       cfg.NotifyFrom,
			baseURL:    cfg.PortalBaseURL,
		}
	default:
		return LogSender{baseURL: cfg.PortalBaseURL, log: log}
	}
}

// LogSender writes links to the log instead of mailing them. Development only.
type LogSender struct {
	baseURL string
	log     logging.Logger
}

func (s LogSender) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	s.log.Info(ctx, "password reset token generated", "email", toEmail, "link", link(s.baseURL, "reset", token))
	return nil
}

func (s LogSender) SendAccountSetup(ctx context.Context, toEmail, token string) error {
	s.log.Info(ctx, "account setup token generated", "email", toEmail, "link", link(s.baseURL, "setup", token))
	return nil
}

type SMTPSender struct {
	host       string
	port       int
	useTLS     bool
	startTLS   bool
	skipVerify bool
	user       string
	pass       string
	from       string
	baseURL    string
}

func (s SMTPSender) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	body := "A password reset was requested for your member portal account.\r\n\r\n" +
		"Use this link within one hour to choose a new password:\r\n" + link(s.baseURL, "reset", token) + "\r\n\r\n" +
		"If you did not request this, you can ignore this message.\r\n"
	return s.send(ctx, toEmail, "Reset your member portal password", body)
}

func (s SMTPSender) SendAccountSetup(ctx context.Context, toEmail, token string) error {
	body := "An account has been created for you on the member portal.\r\n\r\n" +
		"Use this link to set your password:\r\n" + link(s.baseURL, "setup", token) + "\r\n"
	return s.send(ctx, toEmail, "Set up your member portal account", body)
}

func (s SMTPSender) send(ctx context.Context, to, subject, body string) error {
	raw, err := composeMessage(s.from, to, subject, body, time.Now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	tlsConfig := &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipVerify}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if s.useTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.startTLS && !s.useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if s.user != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.user, s.pass, s.host)); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(strings.TrimSpace(to)); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func composeMessage(from, to, subject, body string, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func link(baseURL, kind, token string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return token
	}
	return fmt.Sprintf("%s/#/%s?token=%s", base, kind, url.QueryEscape(token))
}
