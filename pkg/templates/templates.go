// Package templates holds the plain-text message templates used for order
// notifications and receipts.
package templates

import (
	"bytes"
	"sort"
	"strings"
	"text/template"

	"tourmaline.app/pkg/errs"
	"tourmaline.app/pkg/money"
)

// MessageTemplate is a titled plain-text message
type MessageTemplate struct {
	ID          string
	Title       string
	Body        string
	Description string
}

// TemplateData is the data passed to a template
type TemplateData map[string]interface{}

var funcs = template.FuncMap{
	"money": money.FormatMinor,
	"upper": strings.ToUpper,
	"join":  strings.Join,
}

var templates = map[string]*MessageTemplate{
	"order-paid": {
		ID:          "order-paid",
		Description: "Push notification sent when a payment succeeds",
		Title:       `{{.Title}}`,
		Body: `Customer: {{if .Customer}}{{.Customer}}{{else}}Customer{{end}}
{{- if .Email}}
Email: {{.Email}}{{end}}
Amount: {{money .Amount}} {{upper .Currency}}
{{- if .Items}}
Items:
{{- range .Items}}
- {{.}}{{end}}{{end}}
Reference: {{.Reference}}
`,
	},
	"receipt": {
		ID:          "receipt",
		Description: "Receipt printed by the storefront after confirmation",
		Title:       `Order confirmed`,
		Body: `{{.Message}}
{{range .Lines}}{{.Name}} x{{.Quantity}}  {{.Amount}}
{{end}}Subtotal: {{money .Totals.Subtotal}}
{{- if .Totals.Discount}}
Discount: -{{money .Totals.Discount}}{{if .Totals.CouponCode}} ({{.Totals.CouponCode}}){{end}}{{end}}
Shipping: {{money .Totals.Shipping}}
Tax: {{money .Totals.Tax}}
Total: {{money .Totals.Total}}
`,
	},
}

// GetTemplate returns the template registered under templateID
func GetTemplate(templateID string) (*MessageTemplate, error) {
	tmpl, exists := templates[templateID]
	if !exists {
		return nil, &errs.Error{Code: errs.NotFound, Message: "template not found: " + templateID}
	}
	return tmpl, nil
}

// RenderTemplate executes the title and body of templateID with data
func RenderTemplate(templateID string, data interface{}) (title, body string, err error) {
	tmpl, err := GetTemplate(templateID)
	if err != nil {
		return "", "", err
	}

	title, err = execute(tmpl.ID+".title", tmpl.Title, data)
	if err != nil {
		return "", "", err
	}
	body, err = execute(tmpl.ID+".body", tmpl.Body, data)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(title), body, nil
}

func execute(name, text string, data interface{}) (string, error) {
	t, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return "", &errs.Error{Code: errs.Internal, Message: "failed to parse template " + name}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", &errs.Error{Code: errs.Internal, Message: "failed to execute template " + name + ": " + err.Error()}
	}
	return buf.String(), nil
}

// GetAvailableTemplates lists the registered template ids
func GetAvailableTemplates() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
