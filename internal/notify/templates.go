package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

const welcomeSubject = "【やさしいケア記録AI】ご購入ありがとうございます｜ログイン情報のご案内"

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>ログイン情報のご案内</title></head>
<body style="font-family: sans-serif; color: #1a1a1a; line-height: 1.7;">
<p>{{if .Name}}{{.Name}} 様{{else}}お客様{{end}}</p>
<p>この度は「{{.ProductName}}」をご購入いただきありがとうございます。</p>
<p>以下がログイン情報となります。</p>
<p><b>■ ログインURL</b><br><a href="{{.LoginURL}}">{{.LoginURL}}</a></p>
<p><b>■ ID（メールアドレス）</b><br>{{.Email}}</p>
<p><b>■ 仮パスワード</b><br>{{.TemporaryPassword}}</p>
<p>※ログイン後、必ずパスワード変更をお願いいたします。</p>
<p>今後ともよろしくお願いいたします。</p>
</body>
</html>`))

// Welcome holds template data for the login-details email sent after a
// self-serve purchase or an admin-created account.
type Welcome struct {
	Name              string
	Email             string
	TemporaryPassword string
	ProductName       string
	LoginURL          string
}

// RenderWelcomeEmail renders the welcome email bodies.
func RenderWelcomeEmail(data Welcome) (html, text string, err error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	textBody := fmt.Sprintf("「%s」をご購入いただきありがとうございます。\n\nログインURL: %s\nID: %s\n仮パスワード: %s\n\nログイン後、必ずパスワード変更をお願いいたします。",
		data.ProductName, data.LoginURL, data.Email, data.TemporaryPassword)

	return buf.String(), textBody, nil
}

// Mailer renders and sends the application's emails.
type Mailer struct {
	sender   Sender
	from     string
	loginURL string
}

// NewMailer creates a Mailer sending from the given address.
func NewMailer(sender Sender, from, loginURL string) *Mailer {
	return &Mailer{sender: sender, from: from, loginURL: loginURL}
}

// SendWelcome sends login details with a temporary password.
func (m *Mailer) SendWelcome(ctx context.Context, w Welcome) error {
	if w.LoginURL == "" {
		w.LoginURL = m.loginURL
	}
	if w.ProductName == "" {
		w.ProductName = "やさしいケア記録AI"
	}

	html, text, err := RenderWelcomeEmail(w)
	if err != nil {
		return err
	}

	return m.sender.Send(ctx, Message{
		From:    m.from,
		To:      w.Email,
		Subject: welcomeSubject,
		HTML:    html,
		Text:    text,
	})
}
