package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/jordan-wright/email"
	"github.com/knadh/smtppool"
)

// SMTPConfig describes one relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// PoolSize > 0 keeps that many connections open; 0 dials per message.
	PoolSize           int
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
}

// SMTPMailer sends messages through an SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	pool   *smtppool.Pool
	auth   smtp.Auth
	tls    *tls.Config
	logger *slog.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &SMTPMailer{
		cfg:    cfg,
		tls:    &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify},
		logger: logger.With(slog.String("component", "smtp")),
	}
	if cfg.Username != "" || cfg.Password != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	if cfg.PoolSize > 0 {
		pool, err := smtppool.New(smtppool.Opt{
			Host:            cfg.Host,
			Port:            cfg.Port,
			MaxConns:        cfg.PoolSize,
			IdleTimeout:     cfg.Timeout,
			PoolWaitTimeout: cfg.Timeout,
			TLSConfig:       m.tls,
			Auth:            m.auth,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp pool: %w", err)
		}
		m.pool = pool
	}
	return m, nil
}

// Send delivers msg. The context bounds only the wait for a pooled
// connection; an SMTP transaction in flight is not interrupted.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if m.pool != nil {
		err = m.pool.Send(smtppool.Email{
			From:    m.cfg.From,
			To:      []string{msg.To},
			Subject: msg.Subject,
			Text:    []byte(msg.Text),
			HTML:    htmlBytes(msg.HTML),
			Headers: textproto.MIMEHeader{"X-Adminauth-Kind": {msg.Kind}},
		})
	} else {
		e := &email.Email{
			From:    m.cfg.From,
			To:      []string{msg.To},
			Subject: msg.Subject,
			Text:    []byte(msg.Text),
			HTML:    htmlBytes(msg.HTML),
			Headers: textproto.MIMEHeader{"X-Adminauth-Kind": {msg.Kind}},
		}
		addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
		if m.cfg.StartTLS {
			err = e.SendWithStartTLS(addr, m.auth, m.tls)
		} else {
			err = e.Send(addr, m.auth)
		}
	}

	if err != nil {
		m.logger.ErrorContext(ctx, "smtp send failed",
			slog.String("kind", msg.Kind),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Close releases pooled connections.
func (m *SMTPMailer) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

func htmlBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
