package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Template names known to [Templates].
const (
	TemplatePasswordReset = "password_reset"
	TemplateEmailChange   = "email_change_otp"
	TemplateEmailChanged  = "email_changed_notice"
)

type templatePair struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Templates renders subject, text and HTML bodies per message kind.
type Templates struct {
	pairs map[string]templatePair
}

// Definition is the raw source of one message kind. HTML is optional.
type Definition struct {
	Subject string
	Text    string
	HTML    string
}

// DefaultDefinitions are the built-in messages.
func DefaultDefinitions() map[string]Definition {
	return map[string]Definition{
		TemplatePasswordReset: {
			Subject: "{{.AppName}} password reset",
			Text: "A password reset was requested for your {{.AppName}} account.\n\n" +
				"Open this link within {{.TTL}} to choose a new password:\n{{.Link}}\n\n" +
				"If you did not request this, ignore this message.\n",
			HTML: `<p>A password reset was requested for your {{.AppName}} account.</p>` +
				`<p><a href="{{.Link}}">Choose a new password</a> within {{.TTL}}.</p>` +
				`<p>If you did not request this, ignore this message.</p>`,
		},
		TemplateEmailChange: {
			Subject: "{{.AppName}} email change code",
			Text: "Your code to confirm this address for {{.AppName}} is {{.Code}}.\n" +
				"It expires in {{.TTL}}.\n",
			HTML: `<p>Your code to confirm this address for {{.AppName}} is <strong>{{.Code}}</strong>.</p>` +
				`<p>It expires in {{.TTL}}.</p>`,
		},
		TemplateEmailChanged: {
			Subject: "{{.AppName}} email address changed",
			Text: "The sign-in address of your {{.AppName}} account was changed to {{.NewEmail}}.\n" +
				"If this was not you, contact support immediately.\n",
		},
	}
}

// NewTemplates parses defs. Parsing happens once at startup.
func NewTemplates(defs map[string]Definition) (*Templates, error) {
	t := &Templates{pairs: make(map[string]templatePair, len(defs))}
	for name, def := range defs {
		if strings.TrimSpace(def.Subject) == "" || strings.TrimSpace(def.Text) == "" {
			return nil, fmt.Errorf("mail template %s: subject and text are required", name)
		}
		var p templatePair
		var err error
		if p.subject, err = texttemplate.New(name + ".subject").Option("missingkey=error").Parse(def.Subject); err != nil {
			return nil, fmt.Errorf("mail template %s subject: %w", name, err)
		}
		if p.text, err = texttemplate.New(name + ".text").Option("missingkey=error").Parse(def.Text); err != nil {
			return nil, fmt.Errorf("mail template %s text: %w", name, err)
		}
		if def.HTML != "" {
			if p.html, err = htmltemplate.New(name + ".html").Option("missingkey=error").Parse(def.HTML); err != nil {
				return nil, fmt.Errorf("mail template %s html: %w", name, err)
			}
		}
		t.pairs[name] = p
	}
	return t, nil
}

// Render builds the message for kind addressed to to.
func (t *Templates) Render(kind, to string, data map[string]string) (Message, error) {
	p, ok := t.pairs[kind]
	if !ok {
		return Message{}, fmt.Errorf("mail template %s not defined", kind)
	}

	msg := Message{To: to, Kind: kind}
	var buf bytes.Buffer

	if err := p.subject.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("mail template %s subject: %w", kind, err)
	}
	msg.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := p.text.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("mail template %s text: %w", kind, err)
	}
	msg.Text = buf.String()

	if p.html != nil {
		buf.Reset()
		if err := p.html.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("mail template %s html: %w", kind, err)
		}
		msg.HTML = buf.String()
	}
	return msg, nil
}
