package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"telecare/config"
)

// SMTPSender sends invite emails over plain SMTP
type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendInvite(ctx context.Context, payload InviteEmailPayload) error {
	addr := s.cfg.Host + ":" + s.cfg.Port

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&body, "To: %s\r\n", payload.Email)
	fmt.Fprintf(&body, "Subject: Your consultation invitation\r\n")
	fmt.Fprintf(&body, "\r\n")
	fmt.Fprintf(&body, "Hello %s,\r\n\r\n", payload.Name)
	fmt.Fprintf(&body, "You have been invited to join a consultation as %s.\r\n\r\n", payload.Role)
	fmt.Fprintf(&body, "Join here: %s\r\n\r\n", payload.JoinURL)
	fmt.Fprintf(&body, "This link expires at %s and can be used once.\r\n", payload.ExpiresAt.Format("2006-01-02 15:04 MST"))

	return smtp.SendMail(addr, auth, s.cfg.From, []string{payload.Email}, []byte(body.String()))
}
