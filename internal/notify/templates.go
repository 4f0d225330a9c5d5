package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

const (
	SubjectVerification  = "Verify your email address"
	SubjectPasswordReset = "Reset your password"
)

var (
	verificationTmpl = template.Must(template.New("verification").Parse(`<!doctype html>
<html><body>
<p>Hi {{.Name}},</p>
<p>Thanks for signing up. Confirm your email address by opening the link below:</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>The link expires in {{.Expiry}}.</p>
</body></html>`))

	passwordResetTmpl = template.Must(template.New("password_reset").Parse(`<!doctype html>
<html><body>
<p>Hi {{.Name}},</p>
<p>We received a request to reset your password. Open the link below to choose a new one:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>The link expires in {{.Expiry}}. If you did not ask for this, ignore this email.</p>
</body></html>`))
)

type emailData struct {
	Name   string
	Link   string
	Expiry string
}

// RenderVerification builds the body of the email-verification message.
func RenderVerification(baseURL, name, token, expiry string) (string, error) {
	return render(verificationTmpl, emailData{
		Name:   name,
		Link:   baseURL + "/api/v1/auth/verify-email?token=" + url.QueryEscape(token),
		Expiry: expiry,
	})
}

// RenderPasswordReset builds the body of the password-reset message.
func RenderPasswordReset(baseURL, name, token, expiry string) (string, error) {
	return render(passwordResetTmpl, emailData{
		Name:   name,
		Link:   baseURL + "/reset-password?token=" + url.QueryEscape(token),
		Expiry: expiry,
	})
}

func render(t *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
