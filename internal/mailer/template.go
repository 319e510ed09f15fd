package mailer

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02 15:04:05"

// RenderTemplate substitutes {{name}} tokens with the given values. Unknown
// tokens are left as they are.
func RenderTemplate(tmpl string, values map[string]string) string {
	result := tmpl
	for name, value := range values {
		result = strings.ReplaceAll(result, "{{"+name+"}}", value)
	}
	return result
}

// ReportValues are the tokens available to the subject and body of a
// report email.
func ReportValues(now time.Time, file string) map[string]string {
	return map[string]string{
		"date": now.Format(dateLayout),
		"file": file,
	}
}
