package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/planti/internal/metrics"
)

const defaultMaxRetries = 3

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends multipart/alternative mail through a plain SMTP relay.
type SMTPMailer struct {
	addr       string
	from       string
	auth       smtp.Auth
	maxRetries uint64
	initial    time.Duration
	send       sendFunc
}

func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{
		addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		from:       from,
		maxRetries: defaultMaxRetries,
		initial:    500 * time.Millisecond,
		send:       smtp.SendMail,
	}
}

// WithAuth sets PLAIN credentials for relays that require them.
func (m *SMTPMailer) WithAuth(username, password, host string) *SMTPMailer {
	m.auth = smtp.PlainAuth("", username, password, host)
	return m
}

func (m *SMTPMailer) SendMagicLink(ctx context.Context, email, link string) error {
	htmlBody, textBody, err := renderMagicLink(link)
	if err != nil {
		return err
	}

	msg, err := buildMessage(m.from, email, magicLinkSubject, textBody, htmlBody)
	if err != nil {
		return err
	}

	operation := func() error {
		err := m.send(m.addr, m.auth, m.from, []string{email}, msg)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		log.Printf("mail: send to %s failed, retrying: %v", email, err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.initial
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, m.maxRetries), ctx)); err != nil {
		metrics.MailsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("send magic link to %s: %w", email, err)
	}

	metrics.MailsSent.WithLabelValues("sent").Inc()
	log.Printf("mail: magic link sent to %s", email)
	return nil
}

// isPermanent reports whether the relay rejected the message outright.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

func buildMessage(from, to, subject, textBody, htmlBody string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", textBody},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("create part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("write part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: Planti <%s>\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
