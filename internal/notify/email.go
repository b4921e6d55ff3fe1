package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type SMTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	From       string        `mapstructure:"from"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subject_prefix"`
}

type EmailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Mailer is a single-attempt SMTP sender.
type Mailer struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

func NewMailer(cfg SMTPConfig, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host(cfg.Addr))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailer{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        log.With(zap.String("component", "notify.mailer")),
	}
}

func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) error {
	subj := oneLine(m.subjPrefix + " " + subject)
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + strings.Join(to, ", ") + "\r\n" +
			"Subject: " + mime.QEncoding.Encode("utf-8", subj) + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.addr),
		zap.Bool("tls", m.useTLS),
		zap.Strings("to", to),
		zap.String("subject", subj),
	)

	dialer := net.Dialer{Timeout: m.timeout}
	var (
		conn net.Conn
		err  error
	)
	if m.useTLS {
		conn, err = tls.DialWithDialer(&dialer, "tcp", m.addr, &tls.Config{ServerName: host(m.addr), MinVersion: tls.VersionTLS12})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", m.addr)
	}
	if err != nil {
		log.Warn("smtp dial failed", zap.Error(err))
		return fmt.Errorf("%w: dial: %v", ErrChannelSend, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.timeout))
	}

	c, err := smtp.NewClient(conn, host(m.addr))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: smtp client: %v", ErrChannelSend, err)
	}
	defer func() { _ = c.Close() }()

	if !m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: host(m.addr), MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("%w: starttls: %v", ErrChannelSend, err)
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("%w: auth: %v", ErrChannelSend, err)
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %v", ErrChannelSend, err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: RCPT TO %s: %v", ErrChannelSend, rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %v", ErrChannelSend, err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("%w: write: %v", ErrChannelSend, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close data: %v", ErrChannelSend, err)
	}
	_ = c.Quit()

	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func host(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

// Email sends the templated message to every address in the "to" key.
type Email struct {
	Sender EmailSender
}

func (h *Email) Send(ctx context.Context, n Notification) Result {
	if h.Sender == nil {
		return invalid("email transport is not configured")
	}
	raw := n.Channel.Get("to")
	if strings.TrimSpace(raw) == "" {
		return invalid("email: missing \"to\"")
	}
	var to []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil {
			return invalid("email: bad address %q", part)
		}
		to = append(to, addr.Address)
	}
	if len(to) == 0 {
		return invalid("email: no recipients")
	}
	if err := h.Sender.Send(ctx, to, Subject(n), Body(n)); err != nil {
		return fail(err)
	}
	return ok()
}
