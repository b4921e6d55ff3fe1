package notify

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/alert"
	"github.com/NordCoder/Beacon/internal/domain/check"
	"github.com/NordCoder/Beacon/internal/domain/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// smtpSink accepts one message over plain SMTP and hands back its DATA.
func smtpSink(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT", "RSET", "NOOP":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				out <- string(data)
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return ln.Addr().String(), out
}

func headers(t *testing.T, data string) []string {
	t.Helper()
	head, _, found := strings.Cut(data, "\n\n")
	require.True(t, found, "no header/body separator in %q", data)
	return strings.Split(head, "\n")
}

func TestMailer_NamesCannotInjectHeaders(t *testing.T) {
	addr, got := smtpSink(t)
	m := NewMailer(SMTPConfig{Addr: addr, From: "beacon@example.com", SubjPrefix: "[Beacon]", Timeout: 5 * time.Second}, zap.NewNop())

	n := Notification{
		Check:   &check.Check{Name: "job\r\nBcc: attacker@evil.test", Status: check.StatusDown},
		Project: &project.Project{Name: "acme\nX-Evil: 1"},
		Event:   alert.EventDown,
		At:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.Send(context.Background(), []string{"ops@example.com"}, Subject(n), Body(n)))

	var data string
	select {
	case data = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	hs := headers(t, data)
	assert.Len(t, hs, 4)
	for _, h := range hs {
		name, _, _ := strings.Cut(h, ":")
		assert.Contains(t, []string{"From", "To", "Subject", "Content-Type"}, name)
	}
	var subject string
	for _, h := range hs {
		if v, ok := strings.CutPrefix(h, "Subject: "); ok {
			subject = v
		}
	}
	assert.Contains(t, subject, "job Bcc: attacker@evil.test")
	assert.True(t, strings.HasPrefix(subject, "[Beacon] "))
}

func TestMailer_EncodesNonASCIISubject(t *testing.T) {
	addr, got := smtpSink(t)
	m := NewMailer(SMTPConfig{Addr: addr, From: "beacon@example.com", Timeout: 5 * time.Second}, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), []string{"ops@example.com"}, "Резервная копия down", "body"))

	data := <-got
	var subject string
	for _, h := range headers(t, data) {
		if v, ok := strings.CutPrefix(h, "Subject: "); ok {
			subject = v
		}
	}
	assert.True(t, strings.HasPrefix(subject, "=?utf-8?q?"), subject)
	for _, r := range subject {
		assert.Less(t, r, rune(128))
	}
}

func TestSubject_IsOneLine(t *testing.T) {
	n := Notification{
		Check:   &check.Check{Name: "nightly\r\n\tbackup", Status: check.StatusDown},
		Project: &project.Project{Name: "acme"},
		Event:   alert.EventDown,
	}
	s := Subject(n)
	assert.NotContains(t, s, "\r")
	assert.NotContains(t, s, "\n")
	assert.Contains(t, s, "nightly backup")
}
