package mail

import (
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/conversant/backend/internal/platform/apierr"
	"github.com/conversant/backend/internal/platform/logger"
)

// Sender delivers account lifecycle emails.
type Sender interface {
	SendVerification(toEmail, username, code string) error
	SendPasswordReset(toEmail, username, code string) error
}

type Config struct {
	Host            string
	Port            int
	Username        string
	Password        string
	From            string
	FrontendBaseURL string
}

type smtpSender struct {
	cfg Config
	log *logger.Logger
}

func NewSMTPSender(cfg Config, log *logger.Logger) (Sender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &smtpSender{
		cfg: cfg,
		log: log.With("service", "Mailer"),
	}, nil
}

func (s *smtpSender) SendVerification(toEmail, username, code string) error {
	link := strings.TrimRight(s.cfg.FrontendBaseURL, "/") + "/verify-email?token=" + code
	body, err := render(verificationTmpl, emailData{Username: username, Link: link})
	if err != nil {
		return apierr.Internal("MAIL_TEMPLATE", err)
	}
	if err := s.send(toEmail, "Verify your email", body); err != nil {
		return err
	}
	s.log.Info("verification email sent", "email", toEmail)
	return nil
}

func (s *smtpSender) SendPasswordReset(toEmail, username, code string) error {
	link := strings.TrimRight(s.cfg.FrontendBaseURL, "/") + "/reset-password?token=" + code
	body, err := render(passwordResetTmpl, emailData{Username: username, Link: link})
	if err != nil {
		return apierr.Internal("MAIL_TEMPLATE", err)
	}
	if err := s.send(toEmail, "Reset your password", body); err != nil {
		return err
	}
	s.log.Info("password reset email sent", "email", toEmail)
	return nil
}

func (s *smtpSender) send(toEmail, subject, htmlBody string) error {
	if strings.TrimSpace(toEmail) == "" {
		return apierr.BadRequest("MAIL_RECIPIENT_EMPTY", fmt.Errorf("empty recipient"))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return apierr.Upstream("MAIL_SEND", fmt.Errorf("send email: %w", err))
	}
	return nil
}

type emailData struct {
	Username string
	Link     string
}

func render(t *template.Template, data emailData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return b.String(), nil
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; padding: 24px;">
    <h2>Welcome, {{.Username}}</h2>
    <p>Confirm your email address to activate your account.</p>
    <p style="text-align: center; margin: 24px 0;">
      <a href="{{.Link}}" style="display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold;">Verify Email</a>
    </p>
    <p style="font-size: 12px; color: #6b7280;">If the button does not work, open this link: {{.Link}}</p>
    <p style="font-size: 12px; color: #6b7280;">The link expires in 15 minutes. If you did not sign up, ignore this email.</p>
  </div>
</body>
</html>`))

var passwordResetTmpl = template.Must(template.New("password_reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; padding: 24px;">
    <h2>Hello, {{.Username}}</h2>
    <p>We received a request to reset your password.</p>
    <p style="text-align: center; margin: 24px 0;">
      <a href="{{.Link}}" style="display: inline-block; padding: 12px 20px; background: #0f172a; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold;">Reset Password</a>
    </p>
    <p style="font-size: 12px; color: #6b7280;">If the button does not work, open this link: {{.Link}}</p>
    <p style="font-size: 12px; color: #6b7280;">The link expires in 15 minutes. If you did not request a reset, ignore this email.</p>
  </div>
</body>
</html>`))
