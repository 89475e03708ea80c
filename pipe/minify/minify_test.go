package minify

import (
	"context"
	"errors"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSS(t *testing.T) {
	src := []byte("/* layout */\nbody {\n  color: red;\n  margin: 0px;\n}\n")
	out, err := CSS(context.Background(), `site.css`, src)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `layout`)
	assert.NotContains(t, string(out), "\n  ")
	assert.Contains(t, string(out), `body{`)
	assert.Contains(t, string(out), `color:red`)
	assert.Less(t, len(out), len(src))
}

func TestCSSKeepsAlphaColors(t *testing.T) {
	src := []byte(".overlay {\n  background: rgba(255, 0, 0, 0.5);\n}\n")
	out, err := CSS(context.Background(), `site.css`, src)
	require.NoError(t, err)
	assert.Contains(t, string(out), `rgba(`)
	assert.NotContains(t, string(out), `#ff000080`)

	out, err = CSS(context.Background(), `site.css`, src, Target(esbuild.ESNext))
	require.NoError(t, err)
	assert.Contains(t, string(out), `#ff000080`, `a modern target may use hex alpha`)
}

func TestJS(t *testing.T) {
	src := []byte(`// adds two numbers
function add(first, second) {
  var total = first + second;
  return total;
}
window.add = add;
`)
	out, err := JS(context.Background(), `site.js`, src)
	require.NoError(t, err)
	code := string(out)
	assert.NotContains(t, code, `adds two numbers`)
	assert.NotContains(t, code, `second`)
	assert.Contains(t, code, `function add(`, `top level names must survive`)
	assert.Contains(t, code, `window.add=add`)
}

func TestKeepNames(t *testing.T) {
	src := []byte("function add(first, second) { return first + second; }\n")
	out, err := JS(context.Background(), `site.js`, src, KeepNames())
	require.NoError(t, err)
	assert.Contains(t, string(out), `second`)
}

func TestSyntaxError(t *testing.T) {
	_, err := JS(context.Background(), `broken.js`, []byte("function (\n"))
	require.Error(t, err)
	var minifyErr *Error
	require.True(t, errors.As(err, &minifyErr))
	assert.Equal(t, `broken.js`, minifyErr.Name)
	assert.NotEmpty(t, minifyErr.Messages)
	assert.Contains(t, err.Error(), `esbuild: broken.js: `)
}
