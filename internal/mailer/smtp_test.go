package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSMTPSenderValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPSender(Config{From: "reports@example.com"}, nil)
	require.Error(t, err)

	_, err = NewSMTPSender(Config{Host: "smtp.example.com"}, nil)
	require.Error(t, err)

	sender, err := NewSMTPSender(Config{Host: "smtp.example.com", From: "reports@example.com"}, nil)
	require.NoError(t, err)
	require.Equal(t, 587, sender.cfg.Port)
}

func TestBuildMIME(t *testing.T) {
	t.Parallel()

	sender, err := NewSMTPSender(Config{
		Host:     "smtp.example.com",
		From:     "reports@example.com",
		FromName: "SERP Reporter",
	}, nil)
	require.NoError(t, err)

	raw, err := sender.buildMIME(Message{
		To:      "ops@example.com",
		Subject: "Crawl Report: 3 Results for 'golang jobs' - crawl_20260830_101500",
		HTML:    "<h1>Report</h1>",
		Text:    "Report",
	}, "abc123@smtp.example.com")
	require.NoError(t, err)

	body := string(raw)
	require.Contains(t, body, "reports@example.com")
	require.Contains(t, body, "ops@example.com")
	require.Contains(t, body, "multipart/alternative")
	require.Contains(t, body, "text/plain")
	require.Contains(t, body, "text/html")
	require.Contains(t, body, "abc123@smtp.example.com")
}

func TestSendRequiresRecipient(t *testing.T) {
	t.Parallel()

	sender, err := NewSMTPSender(Config{Host: "smtp.example.com", From: "reports@example.com"}, nil)
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), Message{Subject: "no recipient"})
	require.Error(t, err)
}

func TestNoopSenderSkips(t *testing.T) {
	t.Parallel()

	sender := NewNoopSender(nil)
	delivery, err := sender.Send(context.Background(), Message{To: "ops@example.com"})
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, delivery.Status)
	require.Empty(t, delivery.MessageID)
}
