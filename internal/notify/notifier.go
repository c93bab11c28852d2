package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Notifier builds account emails with links into the frontend and queues
// them on a Dispatcher.
type Notifier struct {
	dispatcher  *Dispatcher
	frontendURL string
}

func NewNotifier(dispatcher *Dispatcher, frontendURL string) *Notifier {
	return &Notifier{
		dispatcher:  dispatcher,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (n *Notifier) VerificationLink(token string) string {
	return n.frontendURL + "/verify-email/" + url.PathEscape(token)
}

// ResetLink carries the expiry as unix milliseconds. The value is advisory;
// the server checks the stored expiry.
func (n *Notifier) ResetLink(token string, email string, expiresAt time.Time) string {
	query := url.Values{}
	query.Set("email", email)
	query.Set("expiry", strconv.FormatInt(expiresAt.UnixMilli(), 10))
	return n.frontendURL + "/forgot-password/" + url.PathEscape(token) + "?" + query.Encode()
}

func (n *Notifier) SendVerification(to string, username string, token string) <-chan error {
	return n.send(KindVerification, to, "Verify your email address", "verification.html", map[string]any{
		"Username": username,
		"Link":     n.VerificationLink(token),
	})
}

func (n *Notifier) SendPasswordReset(to string, username string, token string, expiresAt time.Time) <-chan error {
	return n.send(KindPasswordReset, to, "Reset your password", "password_reset.html", map[string]any{
		"Username":  username,
		"Link":      n.ResetLink(token, to, expiresAt),
		"ExpiresAt": expiresAt.UTC().Format("2006-01-02 15:04 MST"),
	})
}

func (n *Notifier) send(kind, to, subject, name string, data map[string]any) <-chan error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, data); err != nil {
		failed := make(chan error, 1)
		failed <- fmt.Errorf("render %s: %w", name, err)
		close(failed)
		return failed
	}

	return n.dispatcher.Dispatch(Message{Kind: kind, To: to, Subject: subject, HTML: body.String()})
}
