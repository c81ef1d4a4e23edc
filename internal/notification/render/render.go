// Package render substitutes {{name}} placeholders from a flat context.
package render

import (
	"fmt"
	"reflect"
	"regexp"

	"notification-dispatch/internal/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render replaces every {{name}} in tpl with the string form of ctx[name].
// Missing or nil values render as "". Render never fails and has no side
// effects, so the same inputs always give the same output.
func Render(tpl string, ctx map[string]interface{}) string {
	if tpl == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(tpl, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return stringify(ctx[name])
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return ""
		}
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Content is a rendered template.
type Content struct {
	Subject string
	Body    string
	HTML    string
}

// Template renders the subject, content and optional html of tpl.
func Template(tpl *models.Template, ctx map[string]interface{}) Content {
	return Content{
		Subject: Render(tpl.SubjectTemplate, ctx),
		Body:    Render(tpl.ContentTemplate, ctx),
		HTML:    Render(tpl.HTMLTemplate, ctx),
	}
}
