package notifications

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// RendererConfig holds values interpolated into every email.
type RendererConfig struct {
	ProductName    string
	SiteURL        string
	UnsubscribeURL string
	LaunchDate     time.Time
}

// WelcomeData is the template context for the welcome email.
type WelcomeData struct {
	Greeting        string
	ProductName     string
	SiteURL         string
	UnsubscribeLink string
	LaunchDate      string
}

// Renderer renders notifications from embedded templates.
type Renderer struct {
	config RendererConfig
	html   *htmltemplate.Template
	text   *texttemplate.Template
}

// NewRenderer creates a new renderer and parses the welcome templates.
func NewRenderer(config RendererConfig) (*Renderer, error) {
	if config.ProductName == "" {
		config.ProductName = "MuseQuill.ink"
	}

	htmlContent, err := templatesFS.ReadFile("templates/welcome.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read template welcome.html.tmpl: %w", err)
	}
	htmlTmpl, err := htmltemplate.New("welcome_html").Parse(string(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse template welcome.html.tmpl: %w", err)
	}

	textContent, err := templatesFS.ReadFile("templates/welcome.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read template welcome.txt.tmpl: %w", err)
	}
	textTmpl, err := texttemplate.New("welcome_text").Parse(string(textContent))
	if err != nil {
		return nil, fmt.Errorf("parse template welcome.txt.tmpl: %w", err)
	}

	return &Renderer{
		config: config,
		html:   htmlTmpl,
		text:   textTmpl,
	}, nil
}

// RenderWelcome renders the welcome email for a subscriber.
func (r *Renderer) RenderWelcome(msg WelcomeEmail) (Notification, error) {
	data := WelcomeData{
		Greeting:        greeting(msg.Name),
		ProductName:     r.config.ProductName,
		SiteURL:         r.config.SiteURL,
		UnsubscribeLink: r.unsubscribeLink(msg.SubscriberID),
		LaunchDate:      formatLaunchDate(r.config.LaunchDate),
	}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return Notification{}, fmt.Errorf("execute template welcome_html: %w", err)
	}

	var textBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return Notification{}, fmt.Errorf("execute template welcome_text: %w", err)
	}

	return Notification{
		To:       msg.Email,
		Subject:  fmt.Sprintf("🎉 Welcome to %s Early Access!", r.config.ProductName),
		HTMLBody: strings.TrimSpace(htmlBuf.String()),
		TextBody: strings.TrimSpace(textBuf.String()),
	}, nil
}

// unsubscribeLink appends the subscriber id as the token query parameter.
func (r *Renderer) unsubscribeLink(subscriberID string) string {
	u, err := url.Parse(r.config.UnsubscribeURL)
	if err != nil || r.config.UnsubscribeURL == "" {
		return ""
	}
	q := u.Query()
	q.Set("token", subscriberID)
	u.RawQuery = q.Encode()
	return u.String()
}

var titleCaser = cases.Title(language.English, cases.NoLower)

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	return titleCaser.String(name)
}

func formatLaunchDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}
