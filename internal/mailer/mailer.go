// Package mailer delivers rendered notifications over authenticated SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/mail.v2"
)

// DefaultFromName is the display name used when none is configured.
const DefaultFromName = "Bay Area AQI Bot"

// Delivery failure reasons.
const (
	ReasonConnect  = "connect"
	ReasonTLS      = "tls"
	ReasonAuth     = "auth"
	ReasonRejected = "rejected"
	ReasonSend     = "send"
)

// Message is one outbound email.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	// TextBody is sent as the plain-text alternative when present.
	TextBody string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dialer opens a connection, sends and closes it. *mail.Dialer implements it.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Config holds relay and sender settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Timeout     time.Duration

	// Dialer replaces the SMTP dialer built from the fields above.
	Dialer Dialer

	Logger zerolog.Logger
	Now    func() time.Time
}

// DeliveryError reports a failed send. Recipient is redacted.
type DeliveryError struct {
	Recipient string
	Reason    string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %s: %v", e.Recipient, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Mailer sends each message over its own STARTTLS connection.
type Mailer struct {
	composer
	dialer Dialer
	logger zerolog.Logger
}

var _ Sender = (*Mailer)(nil)

// New creates a Mailer.
func New(cfg Config) *Mailer {
	dialer := cfg.Dialer
	if dialer == nil {
		d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		// Implicit TLS on 465 is handled by NewDialer; everything else must upgrade.
		d.StartTLSPolicy = mail.MandatoryStartTLS
		if cfg.Timeout > 0 {
			d.Timeout = cfg.Timeout
		}
		dialer = d
	}

	return &Mailer{
		composer: newComposer(cfg),
		dialer:   dialer,
		logger:   cfg.Logger.With().Str("component", "mailer").Logger(),
	}
}

// Send delivers msg. Failures are returned as *DeliveryError.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Recipient: RedactEmail(msg.To), Reason: ReasonSend, Err: err}
	}

	start := time.Now()
	if err := m.dialer.DialAndSend(m.compose(msg)); err != nil {
		return &DeliveryError{Recipient: RedactEmail(msg.To), Reason: classify(err), Err: err}
	}

	m.logger.Debug().
		Str("to", RedactEmail(msg.To)).
		Dur("duration", time.Since(start)).
		Msg("message delivered")
	return nil
}

// DryRunSender writes each message in wire format instead of sending it.
type DryRunSender struct {
	composer
	w io.Writer
}

var _ Sender = (*DryRunSender)(nil)

// NewDryRunSender creates a sender that writes messages to w.
func NewDryRunSender(cfg Config, w io.Writer) *DryRunSender {
	return &DryRunSender{composer: newComposer(cfg), w: w}
}

// Send implements Sender.
func (d *DryRunSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Recipient: RedactEmail(msg.To), Reason: ReasonSend, Err: err}
	}
	if _, err := d.compose(msg).WriteTo(d.w); err != nil {
		return &DeliveryError{Recipient: RedactEmail(msg.To), Reason: ReasonSend, Err: err}
	}
	if _, err := io.WriteString(d.w, "\r\n\r\n"); err != nil {
		return &DeliveryError{Recipient: RedactEmail(msg.To), Reason: ReasonSend, Err: err}
	}
	return nil
}

// composer builds MIME messages with a fixed sender identity.
type composer struct {
	fromAddress string
	fromName    string
	domain      string
	now         func() time.Time
}

func newComposer(cfg Config) composer {
	c := composer{
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		domain:      "localhost",
		now:         cfg.Now,
	}
	if c.fromName == "" {
		c.fromName = DefaultFromName
	}
	if at := strings.LastIndex(cfg.FromAddress, "@"); at >= 0 && at < len(cfg.FromAddress)-1 {
		c.domain = cfg.FromAddress[at+1:]
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c composer) compose(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetAddressHeader("From", c.fromAddress, c.fromName)
	if msg.ToName != "" {
		m.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		m.SetHeader("To", msg.To)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetDateHeader("Date", c.now())
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain))

	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}
	return m
}

// replyCode finds an SMTP reply code in errors that were flattened to text.
var replyCode = regexp.MustCompile(`(?:^|: )([2-5]\d\d)[ -]`)

// classify maps an SMTP or network error to a delivery reason.
func classify(err error) string {
	code := 0
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		code = tpErr.Code
	} else if match := replyCode.FindStringSubmatch(err.Error()); match != nil {
		code, _ = strconv.Atoi(match[1])
	}

	switch {
	case code == 530 || code == 534 || code == 535:
		return ReasonAuth
	case code >= 550 && code <= 554:
		return ReasonRejected
	case code != 0:
		return ReasonSend
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ReasonConnect
	}
	if strings.Contains(err.Error(), "STARTTLS") || strings.Contains(err.Error(), "tls:") {
		return ReasonTLS
	}
	return ReasonSend
}
