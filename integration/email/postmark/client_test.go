package postmark_test

import (
	"context"
	"errors"
	"testing"
	"time"

	pm "github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/rotation"
	"github.com/dmitrymomot/autotls/integration/email/postmark"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, email pm.Email) (pm.EmailResponse, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(pm.EmailResponse), args.Error(1)
}

func validConfig() postmark.Config {
	return postmark.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "autotls@example.com",
		AlertEmail:          "ops@example.com",
		Tag:                 "certificate-rotation",
	}
}

func sampleFailure() rotation.Failure {
	return rotation.Failure{
		Domain:      "example.com",
		RunID:       "run-1",
		LastState:   "authorizations_pending",
		Err:         errors.New("authorization timed out"),
		At:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Consecutive: 2,
		Expires:     time.Now().Add(10 * 24 * time.Hour),
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*postmark.Config)
		opts   []postmark.Option
		ok     bool
	}{
		{name: "valid", mutate: func(*postmark.Config) {}, ok: true},
		{name: "invalid sender", mutate: func(c *postmark.Config) { c.SenderEmail = "nope" }},
		{name: "missing alert", mutate: func(c *postmark.Config) { c.AlertEmail = "" }},
		{name: "missing token", mutate: func(c *postmark.Config) { c.PostmarkServerToken = "" }},
		{
			name:   "missing token with custom sender",
			mutate: func(c *postmark.Config) { c.PostmarkServerToken = "" },
			opts:   []postmark.Option{postmark.WithSender(&mockSender{})},
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)

			n, err := postmark.New(cfg, tt.opts...)
			if tt.ok {
				require.NoError(t, err)
				assert.NotNil(t, n)
				return
			}
			require.ErrorIs(t, err, postmark.ErrInvalidConfig)
			assert.Nil(t, n)
		})
	}
}

func TestMustNewPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { postmark.MustNew(postmark.Config{}) })
}

func TestNotify(t *testing.T) {
	t.Parallel()

	t.Run("sends failure report", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(e pm.Email) bool {
			return e.From == "autotls@example.com" &&
				e.To == "ops@example.com" &&
				e.Tag == "certificate-rotation" &&
				e.Subject == "Certificate rotation failed for example.com"
		})).Return(pm.EmailResponse{MessageID: "m-1"}, nil).Once()

		n := postmark.MustNew(validConfig(), postmark.WithSender(sender))
		require.NoError(t, n.Notify(context.Background(), sampleFailure()))
		sender.AssertExpectations(t)

		email := sender.Calls[0].Arguments.Get(1).(pm.Email)
		assert.Contains(t, email.TextBody, "Run: run-1")
		assert.Contains(t, email.TextBody, "Last state: authorizations_pending")
		assert.Contains(t, email.TextBody, "authorization timed out")
		assert.Contains(t, email.TextBody, "Consecutive failures: 2")
		assert.Contains(t, email.TextBody, "stays in use")
	})

	t.Run("no installed certificate", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).Return(pm.EmailResponse{}, nil).Once()

		f := sampleFailure()
		f.Expires = time.Time{}
		n := postmark.MustNew(validConfig(), postmark.WithSender(sender))
		require.NoError(t, n.Notify(context.Background(), f))

		email := sender.Calls[0].Arguments.Get(1).(pm.Email)
		assert.Contains(t, email.TextBody, "No certificate is installed.")
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).
			Return(pm.EmailResponse{}, errors.New("connection reset")).Once()

		n := postmark.MustNew(validConfig(), postmark.WithSender(sender))
		err := n.Notify(context.Background(), sampleFailure())
		require.ErrorIs(t, err, postmark.ErrFailedToSendEmail)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("api error code", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.Anything).
			Return(pm.EmailResponse{ErrorCode: 300, Message: "Invalid email request"}, nil).Once()

		n := postmark.MustNew(validConfig(), postmark.WithSender(sender))
		err := n.Notify(context.Background(), sampleFailure())
		require.ErrorIs(t, err, postmark.ErrNotificationFailed)
		assert.Contains(t, err.Error(), "300")
	})
}
