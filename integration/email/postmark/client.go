package postmark

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/autotls/core/rotation"
)

var (
	ErrInvalidConfig      = errors.New("postmark: invalid configuration")
	ErrFailedToSendEmail  = errors.New("postmark: failed to send email")
	ErrNotificationFailed = errors.New("postmark: rotation failure notification not delivered")
)

// Config holds Postmark notifier configuration.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL"`
	// AlertEmail receives rotation failure reports.
	AlertEmail string `env:"ALERT_EMAIL"`
	Tag        string `env:"POSTMARK_TAG" envDefault:"certificate-rotation"`
}

// Sender sends a single email. *postmark.Client satisfies it.
type Sender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSender replaces the Postmark API client.
// Primarily used for testing with mocks.
func WithSender(s Sender) Option {
	return func(n *Notifier) {
		if s != nil {
			n.sender = s
		}
	}
}

var _ rotation.Notifier = (*Notifier)(nil)

// Notifier emails rotation failures to an operator.
type Notifier struct {
	sender Sender
	config Config
}

// New creates a Postmark-backed rotation notifier.
// Sender and alert addresses are required; the server token is required
// unless a custom Sender is supplied.
func New(cfg Config, opts ...Option) (*Notifier, error) {
	if cfg.SenderEmail == "" || !isValidEmail(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.AlertEmail == "" || !isValidEmail(cfg.AlertEmail) {
		return nil, fmt.Errorf("%w: AlertEmail must be a valid email address", ErrInvalidConfig)
	}

	n := &Notifier{config: cfg}
	for _, opt := range opts {
		opt(n)
	}

	if n.sender == nil {
		if cfg.PostmarkServerToken == "" {
			return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
		}
		n.sender = postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	}

	return n, nil
}

// MustNew creates a Notifier that panics on invalid config.
func MustNew(cfg Config, opts ...Option) *Notifier {
	n, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

// Notify implements rotation.Notifier.
func (n *Notifier) Notify(ctx context.Context, f rotation.Failure) error {
	resp, err := n.sender.SendEmail(ctx, postmark.Email{
		From:     n.config.SenderEmail,
		To:       n.config.AlertEmail,
		Subject:  fmt.Sprintf("Certificate rotation failed for %s", f.Domain),
		Tag:      n.config.Tag,
		TextBody: failureBody(f),
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrNotificationFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

func failureBody(f rotation.Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Certificate rotation for %s failed at %s.\n\n", f.Domain, f.At.UTC().Format(time.RFC3339))
	if f.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", f.RunID)
	}
	if f.LastState != "" {
		fmt.Fprintf(&b, "Last state: %s\n", f.LastState)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, "Error: %s\n", f.Err)
	}
	fmt.Fprintf(&b, "Consecutive failures: %d\n\n", f.Consecutive)

	if f.Expires.IsZero() {
		b.WriteString("No certificate is installed.\n")
	} else {
		left := time.Until(f.Expires).Round(time.Hour)
		fmt.Fprintf(&b, "The current certificate stays in use and expires at %s (in %s).\n",
			f.Expires.UTC().Format(time.RFC3339), left)
	}
	return b.String()
}

// emailRegex is a simple regex for validating email addresses.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}
