package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

var anomalyTemplate = template.Must(template.New("anomaly").Parse(`
Anomaly Detected
================

Building: {{.BuildingID}}
Unit: {{.UnitID}}
Sensor: {{.SensorType}}
Value: {{.Value}}
Severity: {{.Severity}}
Observed At: {{.At.Format "2006-01-02 15:04:05 MST"}}
Anomaly ID: {{.AnomalyID}}

Description:
{{.Detail}}

Optimization actions for this unit are vetoed while the anomaly is recent.
Please inspect the sensor and the unit.

---
Energy Pipeline Notification System
`))

var blockedTemplate = template.Must(template.New("blocked").Parse(`
Pipeline Blocked
================

Building: {{.BuildingID}}
Validated At: {{.At.Format "2006-01-02 15:04:05 MST"}}

Description:
{{.Detail}}

No optimization plans or decisions were produced for this run. The pipeline
will retry on its next schedule.

---
Energy Pipeline Notification System
`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	log    *logger.Logger
	send   sendFunc
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, log *logger.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, log: log, send: smtp.SendMail, now: time.Now}
}

// SendAlert sends an email for an operator alert
func (e *EmailNotifier) SendAlert(alert *protocol.AlertNotification) error {
	var subject string
	var tmpl *template.Template

	switch alert.Type {
	case protocol.AlertTypeAnomaly:
		subject = fmt.Sprintf("Anomaly (%s) - %s %s %s", alert.Severity, alert.BuildingID, alert.UnitID, alert.SensorType)
		tmpl = anomalyTemplate
	case protocol.AlertTypePipelineBlocked:
		subject = fmt.Sprintf("Pipeline BLOCKED - %s", alert.BuildingID)
		tmpl = blockedTemplate
	default:
		return fmt.Errorf("unknown alert type: %s", alert.Type)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(subject, buf.String())
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.log.Info("SMTP not configured, skipping email", "subject", subject, "body", body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", e.now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.log.Info("Email sent", "subject", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	e.log.Info("SMTP connection test successful", "addr", addr)
	return nil
}
