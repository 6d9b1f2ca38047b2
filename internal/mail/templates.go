package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#1f2937">
<div style="max-width:560px;margin:0 auto;padding:24px;border:1px solid #e5e7eb;border-radius:8px">
<h2 style="color:#15803d">NutriBin</h2>
{{template "body" .}}
<p style="color:#6b7280;font-size:12px">This is an automated message from NutriBin.</p>
</div></body></html>`

var bodies = map[string]string{
	"welcome": `{{define "body"}}<p>Hi {{.Name}},</p>
<p>Your NutriBin {{.Role}} account has been created. You can now sign in with {{.Email}}.</p>{{end}}`,
	"code": `{{define "body"}}<p>Your verification code is</p>
<p style="font-size:28px;letter-spacing:6px;font-weight:bold">{{.Code}}</p>
<p>It expires in {{.Minutes}} minutes. If you did not request it, ignore this email.</p>{{end}}`,
	"password_reset": `{{define "body"}}<p>We received a request to reset your password.</p>
<p style="font-size:28px;letter-spacing:6px;font-weight:bold">{{.Code}}</p>
<p>The code expires in {{.Minutes}} minutes.</p>{{end}}`,
	"repair_status": `{{define "body"}}<p>Hi {{.Name}},</p>
<p>Your repair request #{{.ID}} for machine {{.MachineID}} is now <strong>{{.Status}}</strong>.</p>{{end}}`,
	"support_status": `{{define "body"}}<p>Hi {{.Name}},</p>
<p>Your support ticket #{{.ID}} "{{.Subject}}" is now <strong>{{.Status}}</strong>.</p>{{end}}`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		out[name] = template.Must(template.Must(template.New(name).Parse(layout)).Parse(body))
	}
	return out
}()

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown mail template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
