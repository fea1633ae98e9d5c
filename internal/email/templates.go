package email

import (
	"fmt"
	"strings"
)

// Plantillas en texto plano; los marcadores {{clave}} se sustituyen
// con los datos del mensaje.
const (
	TemplateWelcome       = "welcome"
	TemplateResetPassword = "resetPassword"
)

var templates = map[string]struct {
	subject string
	body    string
}{
	TemplateWelcome: {
		subject: "Welcome to Pursuit Pal",
		body: `Hi {{name}},

Welcome to Pursuit Pal! Your account is ready on the {{planName}} plan.

Log in and start tracking your job hunt:
{{loginUrl}}

— The Pursuit Pal team`,
	},
	TemplateResetPassword: {
		subject: "Password Reset - Pursuit Pal",
		body: `Hi {{name}},

We received a request to reset your password. The link below is valid
for {{ttlMinutes}} minutes:

{{resetUrl}}

If you did not request this, you can ignore this email.

— The Pursuit Pal team`,
	},
}

// RenderTemplate devuelve asunto y cuerpo con los marcadores sustituidos.
func RenderTemplate(name string, data map[string]string) (subject, body string, err error) {
	tpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	subject = tpl.subject
	body = tpl.body
	for key, value := range data {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	return subject, body, nil
}
