package notification

import (
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

type sentMail struct {
	addr string
	to   []string
	msg  string
}

func newTestNotifier(cfg *config.SMTPConfig) (*EmailNotifier, *[]sentMail) {
	var sent []sentMail
	e := NewEmailNotifier(cfg, logger.Nop())
	e.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, to: to, msg: string(msg)})
		return nil
	}
	e.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return e, &sent
}

func smtpConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "pipeline",
		Password: "secret",
		From:     "energy-pipeline@example.com",
		To:       "operators@example.com",
	}
}

func TestSendAlertAnomaly(t *testing.T) {
	e, sent := newTestNotifier(smtpConfig())

	err := e.SendAlert(&protocol.AlertNotification{
		Type:       protocol.AlertTypeAnomaly,
		BuildingID: "B1",
		UnitID:     "B1-U3",
		SensorType: "humidity",
		Severity:   "high",
		Value:      140,
		Detail:     "out_of_bounds",
		At:         time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		AnomalyID:  42,
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, []string{"operators@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Anomaly (high) - B1 B1-U3 humidity\r\n")
	assert.Contains(t, mail.msg, "Anomaly ID: 42")
	assert.Contains(t, mail.msg, "Observed At: 2025-03-10 08:00:00 UTC")
}

func TestSendAlertPipelineBlocked(t *testing.T) {
	e, sent := newTestNotifier(smtpConfig())

	err := e.SendAlert(&protocol.AlertNotification{
		Type:       protocol.AlertTypePipelineBlocked,
		BuildingID: "B1",
		Severity:   "high",
		Detail:     "model_unavailable: no active model",
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "Subject: Pipeline BLOCKED - B1")
	assert.Contains(t, (*sent)[0].msg, "model_unavailable: no active model")
}

func TestSendAlertUnknownType(t *testing.T) {
	e, sent := newTestNotifier(smtpConfig())
	assert.Error(t, e.SendAlert(&protocol.AlertNotification{Type: "SOMETHING_ELSE"}))
	assert.Empty(t, *sent)
}

func TestSendAlertWithoutCredentialsSkips(t *testing.T) {
	cfg := smtpConfig()
	cfg.Password = ""
	e, sent := newTestNotifier(cfg)

	require.NoError(t, e.SendAlert(&protocol.AlertNotification{Type: protocol.AlertTypePipelineBlocked, BuildingID: "B1"}))
	assert.Empty(t, *sent)
}
