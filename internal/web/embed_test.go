package web

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatesParsed(t *testing.T) {
	for _, name := range []string{"settings.html", "directory_select", "notices"} {
		assert.NotNil(t, Templates.Lookup(name), name)
	}
}

func TestStaticFS(t *testing.T) {
	for _, name := range []string{"admin.js", "admin.css"} {
		_, err := fs.Stat(StaticFS, name)
		assert.NoError(t, err, name)
	}
}

func TestUnescapeFunc(t *testing.T) {
	tmpl, err := Templates.Clone()
	require.NoError(t, err)
	_, err = tmpl.New("probe").Parse(`<input value="{{unescape .}}">`)
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, tmpl.ExecuteTemplate(&b, "probe", "News &amp; offers"))
	assert.Equal(t, `<input value="News &amp; offers">`, b.String())
}
