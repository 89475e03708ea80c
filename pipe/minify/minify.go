// Package minify shrinks stylesheets and scripts using the esbuild transform API.  Output is intended to behave the
// same as the input in a browser: whitespace and comments are dropped, syntax is compacted and local identifiers are
// renamed, but top level names in scripts are left alone because other scripts on the page may refer to them.
package minify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/swdunlop/html-go/hog"
)

// StyleEngines are the browsers stylesheets are compacted for unless Target or Engines says otherwise.  None of them
// understand #rrggbbaa colors, so rgba() and hsla() survive minification.
var StyleEngines = []esbuild.Engine{
	{Name: esbuild.EngineChrome, Version: `58`},
	{Name: esbuild.EngineEdge, Version: `16`},
	{Name: esbuild.EngineFirefox, Version: `57`},
	{Name: esbuild.EngineSafari, Version: `10`},
}

// CSS minifies a stylesheet; name is only used in diagnostics.
func CSS(ctx context.Context, name string, src []byte, options ...Option) ([]byte, error) {
	options = append([]Option{Engines(StyleEngines...)}, options...)
	return Transform(ctx, esbuild.LoaderCSS, name, src, options...)
}

// JS minifies a classic (non-module) script; name is only used in diagnostics.
func JS(ctx context.Context, name string, src []byte, options ...Option) ([]byte, error) {
	return Transform(ctx, esbuild.LoaderJS, name, src, options...)
}

// Transform minifies src using the given esbuild loader.  Warnings are logged, errors are returned as an *Error.
func Transform(ctx context.Context, loader esbuild.Loader, name string, src []byte, options ...Option) ([]byte, error) {
	var cfg config
	cfg.transform.Loader = loader
	cfg.transform.Sourcefile = name
	cfg.transform.MinifyWhitespace = true
	cfg.transform.MinifySyntax = true
	cfg.transform.MinifyIdentifiers = true
	cfg.transform.LogLevel = esbuild.LogLevelSilent
	for _, option := range options {
		option(&cfg)
	}

	ret := esbuild.Transform(string(src), cfg.transform)
	for _, msg := range ret.Warnings {
		hog.From(ctx).Warn().Str(`file`, name).Msg(describe(msg))
	}
	if len(ret.Errors) > 0 {
		return nil, &Error{Name: name, Messages: ret.Errors}
	}
	return ret.Code, nil
}

// An Option manipulates the esbuild transform options before a file is minified.
type Option func(*config)

type config struct {
	transform esbuild.TransformOptions
}

// TransformOption returns an option that can manipulate the esbuild API transform options structure.
// See https://esbuild.github.io/api for information on how to use esbuild options.
func TransformOption(fn func(*esbuild.TransformOptions)) Option {
	return func(cfg *config) { fn(&cfg.transform) }
}

// Target sets the language level esbuild may assume when compacting syntax.  It replaces any browser engines.
func Target(target esbuild.Target) Option {
	return func(cfg *config) {
		cfg.transform.Target = target
		cfg.transform.Engines = nil
	}
}

// Engines sets the browsers esbuild must keep the output working in.
func Engines(engines ...esbuild.Engine) Option {
	return func(cfg *config) { cfg.transform.Engines = engines }
}

// KeepNames prevents identifier renaming.
func KeepNames() Option {
	return func(cfg *config) { cfg.transform.MinifyIdentifiers = false }
}

// Error reports every message esbuild produced while failing to minify a file.
type Error struct {
	Name     string
	Messages []esbuild.Message
}

func (err *Error) Error() string {
	var buf bytes.Buffer
	for i, msg := range err.Messages {
		if i == 0 {
			fmt.Fprintf(&buf, "esbuild: %s: ", err.Name)
		} else {
			buf.WriteString("\n   esbuild: ")
		}
		buf.WriteString(strings.ReplaceAll(describe(msg), "\n", "\n            "))
	}
	return buf.String()
}

func describe(msg esbuild.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf(`%d:%d: %s`, msg.Location.Line, msg.Location.Column, msg.Text)
}
