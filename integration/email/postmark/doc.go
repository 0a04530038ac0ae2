// Package postmark reports certificate rotation failures by email through
// Postmark's transactional API.
//
// Notifier implements rotation.Notifier:
//
//	notifier, err := postmark.New(postmark.Config{
//		PostmarkServerToken: os.Getenv("POSTMARK_SERVER_TOKEN"),
//		SenderEmail:         "autotls@example.com",
//		AlertEmail:          "ops@example.com",
//	})
//	if err != nil {
//		return err
//	}
//
//	sched, err := rotation.NewScheduler(p, cell, rotation.WithNotifier(notifier))
//
// The message names the domain, the run, the last workflow state reached,
// the error and when the certificate still being served expires.
//
// # Configuration
//
//	type Config struct {
//		PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
//		PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
//		SenderEmail          string `env:"SENDER_EMAIL"`
//		AlertEmail           string `env:"ALERT_EMAIL"`
//		Tag                  string `env:"POSTMARK_TAG" envDefault:"certificate-rotation"`
//	}
//
// Errors wrap ErrInvalidConfig, ErrFailedToSendEmail (transport) or
// ErrNotificationFailed (Postmark rejected the message).
package postmark
