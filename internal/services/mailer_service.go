package services

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

// Mailer delivers a notification and reports success or failure. The
// withdrawal coordinator uses the result as a gate: no confirmed delivery,
// no withdrawal.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends email over SMTP using the smtp.* viper settings.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer returns an SMTPMailer when SMTP is configured and a logging
// stand-in otherwise, mirroring the dev behavior of logging instead of
// sending.
func NewMailer() Mailer {
	host := viper.GetString("smtp.host")
	user := viper.GetString("smtp.user")
	pass := viper.GetString("smtp.password")
	if host == "" || user == "" {
		log.Println("[MAILER] SMTP not configured, using log mailer")
		return &logMailer{}
	}

	viper.SetDefault("smtp.port", 587)
	from := viper.GetString("smtp.from")
	if from == "" {
		from = user
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, viper.GetInt("smtp.port"), user, pass),
		from:   from,
	}
}

// Send delivers the message, honoring the caller's deadline. gomail has no
// context support, so the dial-and-send runs in a goroutine and the caller's
// timeout wins.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}

type logMailer struct{}

func (m *logMailer) Send(_ context.Context, to, subject, _ string) error {
	log.Printf("[MAILER] Simulated email to %s: %s", to, subject)
	return nil
}

// CreditAlertBody renders the credit/debit alert mail for a processed
// withdrawal. Amounts are minor units.
func CreditAlertBody(fullName string, amount int64, reference string, balanceBefore, balanceAfter int64) (subject, body string) {
	subject = fmt.Sprintf("Withdrawal processed: %s", formatNaira(amount))
	body = fmt.Sprintf(
		`<p>Hi %s,</p>
<p>Your withdrawal of <strong>%s</strong> has been processed (ref: <strong>%s</strong>).</p>
<p>Balance before: %s<br/>Balance after: %s</p>
<p>If you did not authorize this, contact support immediately.</p>
<p>Thanks,<br/>DigiPayG2C Team</p>`,
		fullName, formatNaira(amount), reference, formatNaira(balanceBefore), formatNaira(balanceAfter))
	return subject, body
}

func formatNaira(minor int64) string {
	return fmt.Sprintf("₦%d.%02d", minor/100, minor%100)
}
