package main

import (
	"github.com/swdunlop/pipe-go/pipe"
	"github.com/swdunlop/pipe-go/pipe/deps"
	"github.com/swdunlop/pipe-go/pipe/minify"
	"github.com/swdunlop/zugzug-go"
)

// settings are shared by every task that runs the pipeline; the defaults reproduce the layout of a PlatformIO project
// when run from its web directory.
var settings = zugzug.Settings{
	{Var: &sourceDir, Name: `WEB_SOURCE`,
		Use: "Directory with stylesheets, scripts and static files (default: \"src\")"},
	{Var: &distDir, Name: `WEB_DIST`,
		Use: "Output directory, removed before every build (default: \"../data/web\")"},
	{Var: &rootDir, Name: `WEB_ROOT`,
		Use: "Project root whose data directory receives library output (default: \"..\")"},
	{Var: &libdepsDir, Name: `WEB_LIBDEPS`,
		Use: "Library dependency tree organized as <env>/<lib> (default: \"../.pio/libdeps\")"},
	{Var: &depsCommand, Name: `WEB_DEPS_CMD`,
		Use: "Shell command that builds a library web sub-project (default: \"npm install && npm run build\")"},
	{Var: &keepNames, Name: `WEB_KEEP_NAMES`,
		Use: "Disables renaming of local identifiers in scripts"},
}

var (
	sourceDir   = pipe.DefaultSource
	distDir     = pipe.DefaultDist
	rootDir     = pipe.DefaultRoot
	libdepsDir  = pipe.DefaultLibdeps
	depsCommand = deps.DefaultCommand
	keepNames   bool
)

// newPipe returns a pipeline configured from settings plus any extra options.
func newPipe(extra ...pipe.Option) (*pipe.Config, error) {
	options := []pipe.Option{
		pipe.Source(sourceDir),
		pipe.Dist(distDir),
		pipe.Root(rootDir),
		pipe.Libdeps(libdepsDir),
		pipe.Deps(deps.Command(depsCommand)),
	}
	if keepNames {
		options = append(options, pipe.Minify(minify.KeepNames()))
	}
	return pipe.New(append(options, extra...)...)
}
