package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/duedate/emitracker/pkg/config"
	"github.com/duedate/emitracker/pkg/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// sendFunc matches (*email.Email).Send so tests can capture messages without an SMTP server.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Sender delivers due notifications by email via SMTP
type Sender struct {
	cfg    *config.Config
	logger logrus.FieldLogger
	send   sendFunc
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger logrus.FieldLogger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Deliver emails the shop owner that an installment is due today.
func (s *Sender) Deliver(notification *models.Notification, installment *models.Installment) error {
	e := s.buildDueReminder(notification, installment)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send due reminder to %s: %v", s.cfg.ReminderEmail, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", s.cfg.ReminderEmail, e.Subject)
	return nil
}

func (s *Sender) buildDueReminder(notification *models.Notification, installment *models.Installment) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.ReminderEmail}
	e.Subject = fmt.Sprintf("EMI due today (%s)", notification.DueDate)

	body := notification.Message + "\n\n"
	if installment != nil {
		body += fmt.Sprintf(
			"Installment amount: %s\n"+
				"Fine: %s\n"+
				"Paid so far: %s\n"+
				"Outstanding: %s\n",
			installment.Amount.StringFixed(2), installment.Fine.StringFixed(2),
			installment.Paid.StringFixed(2), installment.Due().StringFixed(2),
		)
	}
	e.Text = []byte(body)
	return e
}
