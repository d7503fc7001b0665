package notifications

import (
	"html"

	"github.com/bradb345/t3test-sub001/internal/mailer"
)

var subjects = map[string]string{
	"payment_completed": "Your rent payment was received",
	"payment_received":  "You received a rent payment",
	"payment_failed":    "Your rent payment failed",
}

func renderEmail(n Notification, firstName string) mailer.Email {
	subject, ok := subjects[n.Type]
	if !ok {
		subject = "You have a new notification"
	}

	greeting := "Hello,"
	if firstName != "" {
		greeting = "Hello " + firstName + ","
	}

	text := greeting + "\n\n" + n.Message + "\n\nThank you."
	body := `<html>
  <body style="font-family: sans-serif;">
    <p>` + html.EscapeString(greeting) + `</p>
    <p>` + html.EscapeString(n.Message) + `</p>
    <p>Thank you.</p>
  </body>
</html>
`
	return mailer.Email{
		Subject:  subject,
		TextBody: text,
		HTMLBody: body,
		Headers:  map[string]string{"X-Notification-Type": n.Type},
	}
}
