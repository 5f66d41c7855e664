package core

import (
	"bytes"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/sankofadev/ripoti/fs"
)

const emailTemplateDir = "templates/email"

var (
	textTemplates *texttmpl.Template
	htmlTemplates *htmltmpl.Template
	tmplInit      sync.Once
	tmplInitErr   error
)

type (
	Attachment struct {
		Content     *bytes.Buffer
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func loadTemplates() error {
	tmplInit.Do(func() {
		textTemplates = texttmpl.New("email")
		htmlTemplates = htmltmpl.New("email")

		tmplInitErr = fs.WalkDir(appfs.FS, emailTemplateDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			data, err := fs.ReadFile(appfs.FS, p)
			if err != nil {
				return err
			}
			base := path.Base(p)
			name := strings.TrimSuffix(base, path.Ext(base))
			switch path.Ext(base) {
			case ".txt":
				_, err = textTemplates.New(name).Parse(string(data))
			case ".gohtml":
				_, err = htmlTemplates.New(name).Parse(string(data))
			}
			return err
		})
	})
	return tmplInitErr
}

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		FrontendBaseURL: Conf.FrontendBaseURL,
		Data:            m.TemplateData,
	}
}

// Render resolves the message contents: either the plain BodyStr or the
// text/html pair looked up by TemplateName in the embedded templates.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}
	if err := loadTemplates(); err != nil {
		return errors.Wrap(err, "loading email templates")
	}

	if tmpl := textTemplates.Lookup(m.TemplateName); tmpl != nil {
		var buff bytes.Buffer
		if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
			return errors.Wrap(err, "rendering text template")
		}
		m.TextContent = buff.String()
	}
	if tmpl := htmlTemplates.Lookup(m.TemplateName); tmpl != nil {
		var buff bytes.Buffer
		if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
			return errors.Wrap(err, "rendering html template")
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool {
	return len(m.To) > 0 || len(m.Cc) > 0 || len(m.Bcc) > 0
}

func (m *EmailMessage) HasContent() bool {
	return m.TextContent != "" || m.HTMLContent != ""
}

func (m *EmailMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}
