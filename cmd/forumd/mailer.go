package main

import (
	"context"
	"net/url"
	"strings"

	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
)

// logMailer stands in for an e-mail gateway. Links carry live
// credentials, so they are only written at debug level.
type logMailer struct {
	baseURL string
	log     *logging.Logger
}

func newLogMailer(baseURL string, log *logging.Logger) *logMailer {
	return &logMailer{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With("component", "mailer"),
	}
}

func (m *logMailer) SendVerification(_ context.Context, user *auth.User, token string) error {
	m.log.Info("verification mail queued", "user_id", user.ID)
	m.log.Debug("verification link", "user_id", user.ID, "link", m.link("/verify-email", token))
	return nil
}

func (m *logMailer) SendPasswordReset(_ context.Context, user *auth.User, token string) error {
	m.log.Info("password reset mail queued", "user_id", user.ID)
	m.log.Debug("password reset link", "user_id", user.ID, "link", m.link("/reset-password", token))
	return nil
}

func (m *logMailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

var _ auth.Mailer = (*logMailer)(nil)
