package mail

import (
	"context"
	"log"
)

// LogMailer writes links to the log instead of sending them. Used when no
// mail host is configured.
type LogMailer struct{}

func (LogMailer) SendMagicLink(ctx context.Context, email, link string) error {
	log.Printf("mail: magic link for %s: %s", email, link)
	return nil
}
