package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/k3a/html2text"
)

const magicLinkSubject = "🪴 Your Planti Login Link"

var magicLinkTmpl = template.Must(template.New("magic-link").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Planti Login</title>
<style>
body { font-family: sans-serif; margin: 0; padding: 0; background-color: #E3EED4; }
.container { max-width: 600px; margin: 20px auto; background-color: #ffffff; padding: 30px; border-radius: 8px; }
h1 { color: #0F2A1D; font-size: 28px; margin: 0; text-align: center; }
p { color: #375534; line-height: 1.6; }
.button { display: inline-block; background-color: #375534; color: #ffffff; padding: 12px 25px; border-radius: 5px; text-decoration: none; font-weight: bold; }
.link { color: #6B9071; word-break: break-all; }
.footer { text-align: center; margin-top: 30px; font-size: 12px; color: #6B9071; }
</style>
</head>
<body>
<div class="container">
<h1>🪴 Welcome to Planti!</h1>
<p>Hello,</p>
<p>Click the button below to log in to your Planti account. No password needed.</p>
<p style="text-align: center;"><a href="{{.Link}}" class="button">Log in to Planti</a></p>
<p>If the button doesn't work, copy this link into your browser:</p>
<p><a href="{{.Link}}" class="link">{{.Link}}</a></p>
<p>This link is valid for {{.ValidFor}} and can only be used once.</p>
<p>If you didn't request this email, you can ignore it.</p>
<div class="footer">Planti - Plant care made simple.</div>
</div>
</body>
</html>
`))

type magicLinkData struct {
	Link     string
	ValidFor string
}

// renderMagicLink returns the HTML and plain-text bodies of the login mail.
func renderMagicLink(link string) (htmlBody, textBody string, err error) {
	var buf bytes.Buffer
	if err := magicLinkTmpl.Execute(&buf, magicLinkData{Link: link, ValidFor: "10 minutes"}); err != nil {
		return "", "", fmt.Errorf("render magic link: %w", err)
	}
	htmlBody = buf.String()
	return htmlBody, html2text.HTML2Text(htmlBody), nil
}
