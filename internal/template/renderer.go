// Package template renders stored templates into channel-specific payloads.
package template

import (
	"regexp"
	"strings"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

// Payload is the channel-appropriate rendered content handed to an adapter.
type Payload struct {
	Channel  models.Channel
	Subject  string
	HTMLBody string
	TextBody string
	Title    string
	Body     string
	Envelope map[string]interface{}
}

const (
	maxSMSRunes  = 160
	maxPushRunes = 512
)

var placeholderPattern = regexp.MustCompile(`#\{([A-Za-z0-9_]+)\}`)

// Substitute replaces every #{name} placeholder. A placeholder with no value
// in vars is a hard render error naming the variable, never a silent blank.
func Substitute(text string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", errors.NewMissingVariableError(missing)
	}
	return out, nil
}

// Render produces the payload for one notification. Branding is applied only
// when the caller resolved the tenant as entitled.
func Render(t *models.NotificationTemplate, vars map[string]string, brandingEntitled bool) (*Payload, error) {
	subject, err := Substitute(t.Subject, vars)
	if err != nil {
		return nil, err
	}
	body, err := Substitute(t.Body, vars)
	if err != nil {
		return nil, err
	}
	html := t.HTMLBody
	if html != "" {
		if html, err = Substitute(html, vars); err != nil {
			return nil, err
		}
	}

	branding := t.Branding
	if !brandingEntitled {
		branding = nil
	}

	p := &Payload{Channel: t.Channel}
	switch t.Channel {
	case models.ChannelEmail:
		p.Subject = subject
		p.TextBody = body
		p.HTMLBody = html
		if p.HTMLBody == "" {
			p.HTMLBody = body
		}
		if branding != nil {
			p.HTMLBody = applyBranding(p.HTMLBody, branding)
			if branding.Footer != "" {
				p.TextBody = p.TextBody + "\n\n" + branding.Footer
			}
		}

	case models.ChannelSMS:
		p.Body = truncateRunes(body, maxSMSRunes)

	case models.ChannelPush:
		p.Title = subject
		p.Body = truncateRunes(body, maxPushRunes)

	case models.ChannelWebhook:
		p.Envelope = map[string]interface{}{
			"event":      t.EventType,
			"subject":    subject,
			"body":       body,
			"renderedAt": time.Now().UTC().Format(time.RFC3339),
		}
		if branding != nil {
			p.Envelope["branding"] = branding
		}

	case models.ChannelInApp:
		p.Title = subject
		p.Body = body

	default:
		return nil, errors.NewTemplateRenderError("unknown channel: " + string(t.Channel))
	}
	return p, nil
}

func applyBranding(html string, b *models.Branding) string {
	var sb strings.Builder
	if b.LogoURL != "" {
		sb.WriteString(`<img src="` + b.LogoURL + `" alt="logo" />`)
	}
	if b.Color != "" {
		sb.WriteString(`<div style="color:` + b.Color + `">`)
		sb.WriteString(html)
		sb.WriteString(`</div>`)
	} else {
		sb.WriteString(html)
	}
	if b.Footer != "" {
		sb.WriteString(`<footer>` + b.Footer + `</footer>`)
	}
	return sb.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
