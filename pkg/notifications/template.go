package notifications

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
	"gopkg.in/yaml.v3"
)

// Template is a named content generator. Title and Message may contain
// {{variable}} placeholders; unknown variables are left as written.
type Template struct {
	ID        string    `json:"id" yaml:"id" bson:"_id" validate:"required"`
	Name      string    `json:"name" yaml:"name" bson:"name" validate:"required"`
	TenantID  string    `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Title     string    `json:"title" yaml:"title" bson:"title" validate:"required"`
	Message   string    `json:"message" yaml:"message" bson:"message" validate:"required"`
	Type      Type      `json:"type" yaml:"type" bson:"type" validate:"required,notification_type"`
	Category  Category  `json:"category" yaml:"category" bson:"category" validate:"required,category"`
	Priority  Priority  `json:"priority" yaml:"priority" bson:"priority" validate:"required,priority"`
	Channels  []Channel `json:"channels" yaml:"channels" bson:"channels" validate:"required,min=1,dive,channel"`
	ActionURL string    `json:"action_url,omitempty" yaml:"action_url,omitempty" bson:"action_url,omitempty"`
	Active    bool      `json:"active" yaml:"active" bson:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" bson:"updated_at"`
}

// Validate checks the template definition.
func (t Template) Validate() error {
	if err := validate.Struct(t); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Render substitutes data into the title and message.
func (t Template) Render(data map[string]any) (title, message string) {
	return renderText(t.Title, data), renderText(t.Message, data)
}

// Request builds a send request for userID from the template.
func (t Template) Request(userID string, data map[string]any) Request {
	title, message := t.Render(data)
	return Request{
		UserID:     userID,
		TenantID:   t.TenantID,
		Title:      title,
		Message:    message,
		Type:       t.Type,
		Category:   t.Category,
		Priority:   t.Priority,
		Channels:   append([]Channel(nil), t.Channels...),
		ActionURL:  renderText(t.ActionURL, data),
		Data:       data,
		TemplateID: t.ID,
	}
}

func renderText(text string, data map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	out, err := fasttemplate.ExecuteFuncStringWithErr(text, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		v, ok := data[strings.TrimSpace(tag)]
		if !ok {
			return w.Write([]byte("{{" + tag + "}}"))
		}
		return fmt.Fprint(w, v)
	})
	if err != nil {
		return text
	}
	return out
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplatesYAML reads template definitions from a YAML document of the form
//
//	templates:
//	  - id: grade-posted
//	    name: Grade posted
//	    title: "New grade in {{subject}}"
//	    ...
//
// Every template is validated.
func LoadTemplatesYAML(r io.Reader) ([]Template, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	var f templateFile
	if err := yaml.Unmarshal(buf.Bytes(), &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for i, t := range f.Templates {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template #%d (%s): %w", i, t.ID, err)
		}
	}
	return f.Templates, nil
}
