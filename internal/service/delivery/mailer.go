package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/zhouzirui/intake-bot/internal/service/render"
)

var (
	// ErrNotConfigured means the operator did not supply complete mail
	// settings. Surfaced per-request rather than failing startup, so the
	// conversational part of the bot keeps working.
	ErrNotConfigured = errors.New("mail delivery is not configured")

	// ErrDelivery wraps transport-level failures: refused connections,
	// rejected auth, protocol errors.
	ErrDelivery = errors.New("mail delivery failed")

	// ErrDeliveryTimeout is reported when the send did not finish within the
	// configured deadline.
	ErrDeliveryTimeout = errors.New("mail delivery timed out")
)

const implicitTLSPort = 465

// Config holds SMTP settings for outbound delivery.
type Config struct {
	Host    string
	Port    int
	User    string
	Pass    string
	To      string
	Timeout time.Duration
}

// Complete reports whether every setting required to send is present.
func (c Config) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.User != "" && c.Pass != "" && c.To != ""
}

// Mailer sends rendered documents as mail attachments. Port 465 uses an
// implicit-TLS connection; any other port connects in plaintext and upgrades
// via STARTTLS before authenticating. One attempt per call, no retries.
type Mailer struct {
	cfg     Config
	subject string
}

// NewMailer creates a dispatcher for the given SMTP configuration. The
// configuration may be incomplete; Deliver then fails with ErrNotConfigured.
func NewMailer(cfg Config, subject string) *Mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailer{cfg: cfg, subject: subject}
}

// Deliver sends the document as a PDF attachment with the summary as the
// message body. The send is bounded by the configured timeout.
func (m *Mailer) Deliver(ctx context.Context, doc render.Document, summary string) error {
	if !m.cfg.Complete() {
		return ErrNotConfigured
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.User); err != nil {
		return fmt.Errorf("%w: invalid sender %q: %v", ErrNotConfigured, m.cfg.User, err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q: %v", ErrNotConfigured, m.cfg.To, err)
	}
	msg.Subject(m.subject)
	msg.SetBodyString(mail.TypeTextPlain, summary)
	if err := msg.AttachReader(doc.Filename, bytes.NewReader(doc.Data),
		mail.WithFileContentType(mail.ContentType("application/pdf"))); err != nil {
		return fmt.Errorf("%w: attach %s: %v", ErrDelivery, doc.Filename, err)
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.User),
		mail.WithPassword(m.cfg.Pass),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(sendCtx, msg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrDeliveryTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
