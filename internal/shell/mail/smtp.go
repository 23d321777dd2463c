// Package mail delivers run reports over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrNoRecipients is returned when no valid address remains.
var ErrNoRecipients = errors.New("no valid e-mail addresses")

// Config configures an SMTPNotifier.
type Config struct {
	Host string
	Port int
	User string
	Pass string

	// Secure enables TLS certificate verification on STARTTLS.
	Secure bool

	From string

	// To receives every message; cc addresses are added per message.
	To string

	Timeout time.Duration
}

// SMTPNotifier sends plain-text messages.
type SMTPNotifier struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewSMTPNotifier creates a notifier.
func NewSMTPNotifier(cfg Config, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.To
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now, logger: logger.With("component", "mail")}
}

// ValidAddresses returns the entries of list that parse as bare addresses,
// keeping their order and dropping duplicates.
func ValidAddresses(list []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		addr, err := netmail.ParseAddress(raw)
		if err != nil || addr.Address != raw {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}
	return out
}

// Send delivers one message to the configured recipient with cc copies.
// Invalid cc addresses are dropped.
func (n *SMTPNotifier) Send(ctx context.Context, subject, body string, cc []string) error {
	to := ValidAddresses([]string{n.cfg.To})
	if len(to) == 0 {
		return fmt.Errorf("send %q: %w", subject, ErrNoRecipients)
	}
	cc = ValidAddresses(cc)

	msg, err := n.compose(subject, body, to[0], cc)
	if err != nil {
		return fmt.Errorf("send %q: %w", subject, err)
	}
	if err := n.deliver(ctx, msg); err != nil {
		return fmt.Errorf("send %q: %w", subject, err)
	}

	n.logger.Debug("mail sent", "subject", subject, "to", to[0], "cc", len(cc))
	return nil
}

// compose builds a UTF-8 plain-text message. Header encoding is left to
// go-mail.
func (n *SMTPNotifier) compose(subject, body, to string, cc []string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("from %q: %w", n.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("to %q: %w", to, err)
	}
	if len(cc) > 0 {
		if err := m.Cc(cc...); err != nil {
			return nil, fmt.Errorf("cc: %w", err)
		}
	}
	m.Subject(subject)
	m.SetDateWithValue(n.now())
	m.SetBodyString(gomail.TypeTextPlain, body)
	return m, nil
}

func (n *SMTPNotifier) deliver(ctx context.Context, msg *gomail.Msg) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	opts := []gomail.Option{
		gomail.WithPort(n.cfg.Port),
		gomail.WithTimeout(n.cfg.Timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTLSConfig(&tls.Config{ServerName: n.cfg.Host, InsecureSkipVerify: !n.cfg.Secure}),
	}
	if n.cfg.User != "" && n.cfg.Pass != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(n.cfg.User),
			gomail.WithPassword(n.cfg.Pass),
		)
	}

	c, err := gomail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client %s: %w", addr, err)
	}

	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := c.Send(msg); err != nil {
		c.Close()
		return fmt.Errorf("deliver via %s: %w", addr, err)
	}
	return c.Close()
}
