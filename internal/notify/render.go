package notify

import (
	"fmt"
	"strings"
	"text/template"

	"monalert/internal/config"
	"monalert/internal/domain"
)

// Renderer turns alerts into channel message text.
// Params: compiled per-channel body overrides and the email subject override.
// Returns: rendering helper shared by dispatcher and retry path.
type Renderer struct {
	bodies  map[string]*template.Template
	subject *template.Template
}

// NewRenderer compiles configured notification templates.
// Params: notify config snapshot.
// Returns: renderer or first template parse error.
func NewRenderer(cfg config.NotifyConfig) (*Renderer, error) {
	renderer := &Renderer{bodies: make(map[string]*template.Template)}

	overrides := map[string]string{
		config.ChannelEmail: cfg.Email.BodyTemplate,
		config.ChannelSMS:   cfg.SMS.BodyTemplate,
		config.ChannelChat:  cfg.Chat.BodyTemplate,
	}
	for channel, body := range overrides {
		if strings.TrimSpace(body) == "" {
			continue
		}
		compiled, err := template.New("notify." + channel + ".body_template").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse notify.%s.body_template: %w", channel, err)
		}
		renderer.bodies[channel] = compiled
	}

	if strings.TrimSpace(cfg.Email.SubjectTemplate) != "" {
		compiled, err := template.New("notify.email.subject_template").Parse(cfg.Email.SubjectTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse notify.email.subject_template: %w", err)
		}
		renderer.subject = compiled
	}
	return renderer, nil
}

// Body renders the message body for one channel.
// Params: channel key and alert snapshot.
// Returns: rendered or default body text.
func (r *Renderer) Body(channel string, alert domain.Alert) (string, error) {
	compiled, ok := r.bodies[channel]
	if !ok {
		return defaultBody(alert), nil
	}
	var rendered strings.Builder
	if err := compiled.Execute(&rendered, alert); err != nil {
		return "", fmt.Errorf("render notify.%s.body_template: %w", channel, err)
	}
	return rendered.String(), nil
}

// Subject renders the email subject line.
// Params: alert snapshot.
// Returns: rendered or default subject text.
func (r *Renderer) Subject(alert domain.Alert) (string, error) {
	if r.subject == nil {
		return DefaultSubject(alert), nil
	}
	var rendered strings.Builder
	if err := r.subject.Execute(&rendered, alert); err != nil {
		return "", fmt.Errorf("render notify.email.subject_template: %w", err)
	}
	return rendered.String(), nil
}

// DefaultSubject builds the fallback subject line for one alert.
// Params: alert snapshot.
// Returns: severity-prefixed subject text.
func DefaultSubject(alert domain.Alert) string {
	return fmt.Sprintf("[%s] %s", alert.Severity, alert.Name)
}

// defaultBody builds the fallback plain-text body for one alert.
// Params: alert snapshot.
// Returns: multi-line summary of the alert condition.
func defaultBody(alert domain.Alert) string {
	var body strings.Builder
	fmt.Fprintf(&body, "Alert: %s\n", alert.Name)
	fmt.Fprintf(&body, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&body, "Status: %s\n", alert.Status)
	if alert.AssetName != "" {
		fmt.Fprintf(&body, "Asset: %s (#%d)\n", alert.AssetName, alert.AssetID)
	} else {
		fmt.Fprintf(&body, "Asset: #%d\n", alert.AssetID)
	}
	fmt.Fprintf(&body, "Metric: %s value=%g threshold=%g\n", alert.MetricName, alert.MetricValue, alert.Threshold)
	fmt.Fprintf(&body, "Started: %s\n", alert.StartTime.UTC().Format("2006-01-02 15:04:05 MST"))
	if alert.Message != "" {
		fmt.Fprintf(&body, "\n%s\n", alert.Message)
	}
	return body.String()
}
