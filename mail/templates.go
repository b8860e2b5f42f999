package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Kind selects the message template.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindLoginCode     Kind = "login"
	KindPasswordReset Kind = "reset"
)

var subjects = map[Kind]string{
	KindVerification:  "Account verification - confirm your email",
	KindLoginCode:     "Sign-in verification code",
	KindPasswordReset: "Password recovery - verification code",
}

type templateData struct {
	Name    string
	Code    string
	Minutes int
}

// Render returns the subject and HTML body for kind.
func Render(kind Kind, name, code string, ttl time.Duration) (string, string, error) {
	subject, ok := subjects[kind]
	if !ok {
		return "", "", fmt.Errorf("mail: unknown template %q", kind)
	}

	data := templateData{Name: name, Code: code, Minutes: int(ttl / time.Minute)}
	if data.Name == "" {
		data.Name = "there"
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, string(kind)+".html", data); err != nil {
		return "", "", fmt.Errorf("mail: render %s: %w", kind, err)
	}
	return subject, body.String(), nil
}
