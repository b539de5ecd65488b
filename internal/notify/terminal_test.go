package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ticker-sentry/internal/config"
	"ticker-sentry/internal/models"
)

func TestTerminalChannelReceivesTriggeredAlerts(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Enabled: true, Level: "all"})

	var buf bytes.Buffer
	tn := NewTerminalNotifier(false)
	tn.out = &buf
	mn.AddChannel(tn)

	alert := models.TriggeredAlert{
		PostID:       "p1",
		Ticker:       "AAPL",
		EntryPrice:   100,
		CurrentPrice: 104,
		MovePct:      0.04,
		AlertedAt:    time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
		TriggeredAt:  time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC),
	}
	if err := mn.SendTriggeredAlert(context.Background(), alert); err != nil {
		t.Fatalf("SendTriggeredAlert: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "AAPL") {
		t.Errorf("terminal output missing ticker: %q", out)
	}
	if !strings.Contains(out, "\a") {
		t.Errorf("alert did not ring the bell: %q", out)
	}
}

func TestTerminalChannelRespectsLevelFilter(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{Enabled: true, Level: "alerts_only"})

	var buf bytes.Buffer
	tn := NewTerminalNotifier(false)
	tn.out = &buf
	mn.AddChannel(tn)

	if err := mn.SendSweepSummary(context.Background(), models.SweepStats{Checked: 3}); err != nil {
		t.Fatalf("SendSweepSummary: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("summary leaked through alerts_only filter: %q", buf.String())
	}
}

func TestDisabledTerminalChannelStaysSilent(t *testing.T) {
	var buf bytes.Buffer
	tn := NewTerminalNotifier(false)
	tn.out = &buf
	tn.SetEnabled(false)

	err := tn.Send(context.Background(), Notification{
		Type:      NotificationAlert,
		Title:     "Watch Triggered: AAPL",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("disabled channel wrote output: %q", buf.String())
	}
}
