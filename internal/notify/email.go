package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"monalert/internal/config"
	"monalert/internal/faults"
)

// EmailSender delivers notifications over SMTP.
// Params: SMTP endpoint, credentials, and sender address from config.
// Returns: email channel sender.
type EmailSender struct {
	cfg config.EmailNotifier
}

// NewEmailSender creates the SMTP sender.
// Params: email notifier config.
// Returns: initialized sender.
func NewEmailSender(cfg config.EmailNotifier) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *EmailSender) Channel() string {
	return config.ChannelEmail
}

// Send delivers one message to one recipient address.
// Params: context and rendered message.
// Returns: transient fault on connection failures, permanent fault on rejection.
func (s *EmailSender) Send(ctx context.Context, message Message) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	var client *smtp.Client
	var err error
	if s.cfg.Port == 465 {
		client, err = connectImplicitTLS(addr, s.cfg.Host, tlsConfig)
	} else {
		client, err = connectSTARTTLS(ctx, addr, s.cfg.Host, tlsConfig)
	}
	if err != nil {
		return faults.MarkTransient(fmt.Errorf("smtp connect %s: %w", addr, err))
	}
	defer client.Close()

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return faults.MarkPermanent(fmt.Errorf("smtp auth: %w", err))
		}
	}

	if err := client.Mail(extractEmail(s.cfg.From)); err != nil {
		return faults.MarkPermanent(fmt.Errorf("smtp sender rejected: %w", err))
	}
	if err := client.Rcpt(extractEmail(message.Recipient)); err != nil {
		return faults.MarkPermanent(fmt.Errorf("smtp recipient %s rejected: %w", message.Recipient, err))
	}

	writer, err := client.Data()
	if err != nil {
		return faults.MarkTransient(fmt.Errorf("smtp data: %w", err))
	}
	if _, err := writer.Write(buildMessage(s.cfg.From, message)); err != nil {
		return faults.MarkTransient(fmt.Errorf("smtp write: %w", err))
	}
	if err := writer.Close(); err != nil {
		return faults.MarkTransient(fmt.Errorf("smtp finish: %w", err))
	}
	return client.Quit()
}

// buildMessage assembles RFC 5322 headers and plain-text body.
// Params: from address and rendered message.
// Returns: raw mail bytes.
func buildMessage(from string, message Message) []byte {
	var mail strings.Builder
	mail.WriteString("From: " + from + "\r\n")
	mail.WriteString("To: " + message.Recipient + "\r\n")
	mail.WriteString("Subject: " + message.Subject + "\r\n")
	mail.WriteString("MIME-Version: 1.0\r\n")
	mail.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	mail.WriteString("\r\n")
	mail.WriteString(message.Body)
	mail.WriteString("\r\n")
	return []byte(mail.String())
}

// connectImplicitTLS connects over implicit TLS (port 465).
// Params: endpoint address, server name, and TLS config.
// Returns: connected SMTP client.
func connectImplicitTLS(addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, host)
}

// connectSTARTTLS connects in plain text and upgrades via STARTTLS.
// Params: context, endpoint address, server name, and TLS config.
// Returns: connected SMTP client.
func connectSTARTTLS(ctx context.Context, addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

// extractEmail extracts the bare address from a "Name <email>" value.
// Params: configured address value.
// Returns: address between angle brackets, or the value unchanged.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 && end > start {
			return addr[start+1 : end]
		}
	}
	return addr
}
