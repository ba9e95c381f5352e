package venueauth

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	"strconv"
	texttemplate "text/template"
)

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

func newEmailTemplate(name, subject, html, text string) emailTemplate {
	return emailTemplate{
		subject: subject,
		html:    htmltemplate.Must(htmltemplate.New(name).Parse(html)),
		text:    texttemplate.Must(texttemplate.New(name).Parse(text)),
	}
}

func (t emailTemplate) render(to string, data any) (EmailMessage, error) {
	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return EmailMessage{}, err
	}
	if err := t.text.Execute(&text, data); err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: to, Subject: t.subject, HTML: html.String(), Text: text.String()}, nil
}

type otpEmailData struct {
	AppName          string
	Name             string
	Code             string
	ExpiresInMinutes int
}

type linkEmailData struct {
	AppName        string
	Name           string
	Link           string
	ExpiresInHours int
}

var (
	otpEmail = newEmailTemplate("otp", "Your One-Time Password (OTP) for Login",
		`<p>Hello {{.Name}},</p>
<p>Your one-time password for {{.AppName}} is:</p>
<h2 style="letter-spacing:4px">{{.Code}}</h2>
<p>It expires in {{.ExpiresInMinutes}} minutes. If you did not try to sign in, you can ignore this email.</p>`,
		`Hello {{.Name}},

Your one-time password for {{.AppName}} is: {{.Code}}

It expires in {{.ExpiresInMinutes}} minutes. If you did not try to sign in, you can ignore this email.
`)

	verificationEmail = newEmailTemplate("verify-email", "Verify Your Email Address",
		`<p>Hello {{.Name}},</p>
<p>Thanks for signing up to {{.AppName}}. Please confirm your email address:</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>This link expires in {{.ExpiresInHours}} hours.</p>`,
		`Hello {{.Name}},

Thanks for signing up to {{.AppName}}. Please confirm your email address:
{{.Link}}

This link expires in {{.ExpiresInHours}} hours.
`)

	passwordResetEmail = newEmailTemplate("password-reset", "Reset your password",
		`<p>Hello {{.Name}},</p>
<p>We received a request to reset your {{.AppName}} password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in {{.ExpiresInHours}} hours. If you did not ask for a reset, you can ignore this email.</p>`,
		`Hello {{.Name}},

We received a request to reset your {{.AppName}} password:
{{.Link}}

This link expires in {{.ExpiresInHours}} hours. If you did not ask for a reset, you can ignore this email.
`)
)

func otpSMSBody(appName, code string, minutes int) string {
	return "Your " + appName + " verification code is " + code + ". It expires in " + strconv.Itoa(minutes) + " minutes."
}

func linkWithToken(base, path, token string) string {
	return base + path + "?token=" + url.QueryEscape(token)
}
