package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrAttachment = errors.New("mailer: attachment unreadable")
	ErrAuth       = errors.New("mailer: smtp login rejected")
	ErrSend       = errors.New("mailer: send failed")
)

type TLSMode string

const (
	StartTLS TLSMode = "starttls"
	Implicit TLSMode = "tls"
	NoTLS    TLSMode = "none"
)

const defaultTimeout = 2 * time.Minute

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	TLS         TLSMode
	// Timeout bounds one SMTP session. Zero means two minutes.
	Timeout time.Duration
	// TLSConfig overrides the client TLS settings; ServerName defaults to Host.
	TLSConfig *tls.Config
}

// Message is one report mailed to one recipient.
type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentPath string
}

// Mailer sends report emails via SMTP.
type Mailer struct {
	cfg Config
	fs  afero.Fs
	now func() time.Time
	// sendFn delivers a composed message; tests replace it.
	sendFn func(ctx context.Context, from, to string, raw []byte) error
}

func New(cfg Config, fs afero.Fs) *Mailer {
	if cfg.TLS == "" {
		cfg.TLS = StartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	m := &Mailer{cfg: cfg, fs: fs, now: time.Now}
	m.sendFn = m.deliver
	return m
}

// Send composes msg with its attachment and delivers it.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	data, err := afero.ReadFile(m.fs, msg.AttachmentPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAttachment, err)
	}
	raw, err := m.formatMessage(msg, data)
	if err != nil {
		return fmt.Errorf("%w: compose: %w", ErrSend, err)
	}
	return m.sendFn(ctx, m.cfg.FromAddress, msg.To, raw)
}

// Ping opens a session, logs in and quits without sending anything.
func (m *Mailer) Ping(ctx context.Context) error {
	c, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Quit(); err != nil {
		return fmt.Errorf("%w: quit: %w", ErrSend, err)
	}
	return nil
}

func (m *Mailer) deliver(ctx context.Context, from, to string, raw []byte) error {
	c, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %w", ErrSend, err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("%w: RCPT TO %s: %w", ErrSend, to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %w", ErrSend, err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write body: %w", ErrSend, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: end of data: %w", ErrSend, err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("%w: quit: %w", ErrSend, err)
	}
	return nil
}

// open dials, secures and authenticates a session. The caller closes it.
func (m *Mailer) open(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Deadline: deadline}
	if m.cfg.TLS == Implicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: m.tlsConfig()}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrSend, addr, err)
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: greeting from %s: %w", ErrSend, addr, err)
	}

	if m.cfg.TLS == StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			c.Close()
			return nil, fmt.Errorf("%w: %s does not offer STARTTLS", ErrSend, addr)
		}
		if err := c.StartTLS(m.tlsConfig()); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: starttls: %w", ErrSend, err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
	}
	return c, nil
}

func (m *Mailer) tlsConfig() *tls.Config {
	if m.cfg.TLSConfig != nil {
		cfg := m.cfg.TLSConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = m.cfg.Host
		}
		return cfg
	}
	return &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
}
