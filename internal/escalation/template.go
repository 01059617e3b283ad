package escalation

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/angelmondragon/notifyhub/internal/notifications"
)

var bodyTemplate = template.Must(template.New("escalation").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{if .Title}}{{.Title}}{{else}}{{.NotificationType}}{{end}}</h2>
<p>{{.Content}}</p>
<p><small>{{.SourceService}} &middot; {{.Priority}} &middot; {{.CreatedAt.Format "2006-01-02 15:04 MST"}}</small></p>
</body>
</html>
`))

// Subject formats the escalation subject line.
func Subject(payload notifications.Payload) string {
	return fmt.Sprintf("[%s] %s", payload.SourceService, payload.NotificationType)
}

// Render builds the HTML body for payload.
func Render(payload notifications.Payload) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("render escalation: %w", err)
	}
	return buf.String(), nil
}
