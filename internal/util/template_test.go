package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, text string, state map[string]any) (string, error) {
	t.Helper()
	tmpl, err := ParseTemplate("t", text)
	require.NoError(t, err)
	return Execute(tmpl, state)
}

func fields(t *testing.T, text string) []string {
	t.Helper()
	tmpl, err := ParseTemplate("t", text)
	require.NoError(t, err)
	return TemplateFields(tmpl)
}

func TestExecute(t *testing.T) {
	out, err := render(t, "Q: {{.input}} ({{upper .tag}})", map[string]any{"input": "battery?", "tag": "x200"})
	require.NoError(t, err)
	assert.Equal(t, "Q: battery? (X200)", out)

	out, err = render(t, "plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	_, err = render(t, "{{.missing}}", map[string]any{})
	require.Error(t, err)
}

func TestExecute_NoHTMLEscaping(t *testing.T) {
	out, err := render(t, "{{.context}}", map[string]any{"context": `<b>"5 stars" & more</b>`})
	require.NoError(t, err)
	assert.Equal(t, `<b>"5 stars" & more</b>`, out)
}

func TestParseTemplate_SyntaxError(t *testing.T) {
	_, err := ParseTemplate("t", "{{.unclosed")
	require.Error(t, err)
}

func TestTemplateFields(t *testing.T) {
	got := fields(t, `{{if .context}}{{.context}}{{else}}none{{end}} {{default "x" .input}} {{range .items}}{{.inner}}{{end}}`)
	assert.Equal(t, []string{"context", "input", "items"}, got)

	assert.Empty(t, fields(t, "no fields"))
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "retrieval.k", Value: 0, Message: "must be at least 1"}
	assert.Equal(t, "validation error for field 'retrieval.k': must be at least 1", err.Error())
}
