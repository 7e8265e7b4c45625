// Package notify renders the daily air quality email for one recipient.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"github.com/breatheroute/aqibot/internal/airquality"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// DefaultSignOff closes every message.
const DefaultSignOff = "The Bay Area AQI Bot"

// subjectDateLayout renders dates as MM/DD/YY.
const subjectDateLayout = "01/02/06"

const (
	templateReport      = "report"
	templateUnavailable = "unavailable"
)

// Notice is everything a message says about one recipient's city.
type Notice struct {
	Name     string
	City     string
	Reading  airquality.Reading
	Category airquality.Category
}

// Content is a rendered message body.
type Content struct {
	HTML string
	Text string
}

// templateData is the struct passed into the templates.
type templateData struct {
	Name           string
	City           string
	AQI            string
	Label          string
	DetailsURL     string
	ContactAddress string
	Unsubscribe    template.URL
	SignOff        string
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	// DetailsURL is linked for a fuller breakdown of air quality.
	DetailsURL string
	// ContactAddress receives unsubscribe requests. Omitted when empty.
	ContactAddress string
	// SignOff defaults to DefaultSignOff.
	SignOff string
}

// Renderer holds the parsed templates. It is safe for reuse across recipients.
type Renderer struct {
	html map[string]*template.Template
	text map[string]*texttemplate.Template
	cfg  RendererConfig
}

// NewRenderer parses the embedded templates.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.SignOff == "" {
		cfg.SignOff = DefaultSignOff
	}

	r := &Renderer{
		html: make(map[string]*template.Template),
		text: make(map[string]*texttemplate.Template),
		cfg:  cfg,
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("notify: read base.html: %w", err)
	}

	for _, name := range []string{templateReport, templateUnavailable} {
		htmlContent, err := templateFS.ReadFile("templates/" + name + ".html")
		if err != nil {
			return nil, fmt.Errorf("notify: read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("notify: parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("notify: parse %s.html: %w", name, err)
		}
		r.html[name] = htmlTmpl

		txtContent, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("notify: read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s.txt: %w", name, err)
		}
		r.text[name] = txtTmpl
	}

	return r, nil
}

// Render produces the message body. The apology template is used exactly
// when the category is "no data"; every other category gets the report.
// The reading is the only number in the visible HTML text. Link targets
// (DetailsURL, the mailto for ContactAddress) are configuration and may
// carry digits of their own in the markup.
func (r *Renderer) Render(n Notice) (Content, error) {
	name := templateReport
	if n.Category == airquality.CategoryNoData {
		name = templateUnavailable
	}

	data := templateData{
		Name:           n.Name,
		City:           n.City,
		AQI:            n.Reading.String(),
		Label:          n.Category.Label(),
		DetailsURL:     r.cfg.DetailsURL,
		ContactAddress: r.cfg.ContactAddress,
		SignOff:        r.cfg.SignOff,
	}
	if r.cfg.ContactAddress != "" {
		// The address is validated configuration, not recipient input.
		data.Unsubscribe = template.URL("mailto:" + r.cfg.ContactAddress)
	}

	var htmlBuf bytes.Buffer
	if err := r.html[name].Execute(&htmlBuf, data); err != nil {
		return Content{}, fmt.Errorf("notify: render %s.html: %w", name, err)
	}

	var textBuf bytes.Buffer
	if err := r.text[name].Execute(&textBuf, data); err != nil {
		return Content{}, fmt.Errorf("notify: render %s.txt: %w", name, err)
	}

	return Content{HTML: htmlBuf.String(), Text: textBuf.String()}, nil
}

// Subject returns the subject line for a city on a given day.
func Subject(city string, date time.Time) string {
	return fmt.Sprintf("%s AQI: %s", city, date.Format(subjectDateLayout))
}
