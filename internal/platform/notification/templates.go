package notification

import (
	"fmt"
	"html"
	"time"
)

func OTPEmail(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your CuraFile verification code",
		HTML: fmt.Sprintf(
			"<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
			code, int(ttl.Minutes())),
	}
}

func PasswordResetEmail(to, link string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Reset your CuraFile password",
		HTML: fmt.Sprintf(
			"<p>We received a request to reset your password.</p>"+
				"<p><a href=\"%s\">Reset password</a></p>"+
				"<p>The link expires in %d minutes. If you did not ask for this, ignore this email.</p>",
			html.EscapeString(link), int(ttl.Minutes())),
	}
}

func WelcomeEmail(to, name, publicID string) Message {
	return Message{
		To:      to,
		Subject: "Welcome to CuraFile",
		HTML: fmt.Sprintf(
			"<p>Hi %s,</p><p>Your patient ID is <strong>%s</strong>. Share it only with people you trust.</p>",
			html.EscapeString(name), publicID),
	}
}

func InvitationEmail(to, clinicName string, expiresAt time.Time) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("%s invited you to join their clinic", clinicName),
		HTML: fmt.Sprintf(
			"<p>%s has invited you to join as a doctor.</p><p>The invitation is open until %s.</p>",
			html.EscapeString(clinicName), expiresAt.UTC().Format("2 Jan 2006")),
	}
}
