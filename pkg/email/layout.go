package email

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Link is a call-to-action rendered under the message.
type Link struct {
	Label string
	URL   string
}

// NotificationContent is the data shown in the notification email layout.
type NotificationContent struct {
	Title     string
	Message   string
	ActionURL string
	Category  string
	Links     []Link
}

// NotificationLayout renders a notification as a minimal, inline-styled HTML email.
// All text is escaped; URLs go through templ's URL sanitizer.
func NotificationLayout(c NotificationContent) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`)
		b.WriteString(templ.EscapeString(c.Title))
		b.WriteString(`</title></head><body style="font-family:Arial,sans-serif;background:#f5f6f8;margin:0;padding:24px">`)
		b.WriteString(`<table role="presentation" width="100%" style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:6px;padding:24px">`)
		if c.Category != "" {
			fmt.Fprintf(&b, `<tr><td style="color:#6b7280;font-size:12px;text-transform:uppercase">%s</td></tr>`, templ.EscapeString(c.Category))
		}
		fmt.Fprintf(&b, `<tr><td><h1 style="font-size:20px;margin:8px 0 16px">%s</h1></td></tr>`, templ.EscapeString(c.Title))
		for _, para := range strings.Split(c.Message, "\n") {
			if strings.TrimSpace(para) == "" {
				continue
			}
			fmt.Fprintf(&b, `<tr><td><p style="font-size:15px;line-height:1.5;margin:0 0 12px">%s</p></td></tr>`, templ.EscapeString(para))
		}
		links := c.Links
		if c.ActionURL != "" {
			links = append([]Link{{Label: "Open", URL: c.ActionURL}}, links...)
		}
		for _, l := range links {
			fmt.Fprintf(&b, `<tr><td style="padding-top:8px"><a href="%s" style="display:inline-block;background:#2563eb;color:#ffffff;padding:10px 16px;border-radius:4px;text-decoration:none">%s</a></td></tr>`,
				templ.EscapeString(string(templ.URL(l.URL))), templ.EscapeString(l.Label))
		}
		b.WriteString(`</table></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// Render renders a templ component to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
