// Package pipe builds the web assets of a firmware project into its data directory.
//
// A build cleans the output directory, builds the web sub-projects of library dependencies into the shared data
// directory and then, concurrently, copies static files and writes minified copies of the stylesheets and scripts.
// Watch keeps the minified copies current while sources are edited.
package pipe

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pipe-go/pipe/deps"
	"github.com/swdunlop/pipe-go/pipe/files"
	"github.com/swdunlop/pipe-go/pipe/minify"
	"github.com/swdunlop/pipe-go/pipe/step"
	"github.com/swdunlop/pipe-go/pipe/watcher"
)

// Defaults match the layout of a PlatformIO project whose web sources live in <project>/web and whose pipeline is
// run from that directory.
const (
	DefaultSource  = `src`
	DefaultDist    = `../data/web`
	DefaultRoot    = `..`
	DefaultLibdeps = `../.pio/libdeps`
	DefaultSuffix  = `.min`
)

// New returns a new pipeline configuration.
func New(options ...Option) (*Config, error) {
	cfg := &Config{
		source:  DefaultSource,
		dist:    DefaultDist,
		root:    DefaultRoot,
		libdeps: DefaultLibdeps,
		suffix:  DefaultSuffix,
		static:  []string{`fav.ico`},
		styles:  []string{`*.css`},
		scripts: []string{`*.js`},
	}
	err := cfg.Apply(options...)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// A Config is a pipeline configuration.
type Config struct {
	source  string   // directory holding static files, stylesheets and scripts
	dist    string   // output directory, removed by Clean
	root    string   // project root; library output is copied into <root>/data
	libdeps string   // library dependency root, organized as <env>/<lib>
	suffix  string   // inserted before the extension of minified files
	static  []string // files copied verbatim, relative to source
	styles  []string // stylesheet patterns, relative to source
	scripts []string // script patterns, relative to source

	deps     []deps.Option
	minify   []minify.Option
	rebuilt  []func(ctx context.Context, what string)
	watching bool
}

// An Option is a function that modifies a Config.
type Option func(*Config) error

// Apply applies the given options to the config; should not be called while watching.
func (cfg *Config) Apply(options ...Option) error {
	if cfg.watching {
		return errors.New(`cannot apply options while a pipeline is watching`)
	}
	for _, option := range options {
		err := option(cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// Source sets the directory holding static files, stylesheets and scripts.
func Source(dir string) Option {
	return func(cfg *Config) error { return setDir(&cfg.source, `source`, dir) }
}

// Dist sets the output directory.  It is removed at the start of every build.
func Dist(dir string) Option {
	return func(cfg *Config) error { return setDir(&cfg.dist, `dist`, dir) }
}

// Root sets the project root; output of library sub-projects is copied into its data directory.
func Root(dir string) Option {
	return func(cfg *Config) error { return setDir(&cfg.root, `root`, dir) }
}

// Libdeps sets the root of the library dependency tree.
func Libdeps(dir string) Option {
	return func(cfg *Config) error { return setDir(&cfg.libdeps, `libdeps`, dir) }
}

func setDir(field *string, what, dir string) error {
	if dir == `` {
		return errors.Errorf(`%s directory must not be empty`, what)
	}
	*field = dir
	return nil
}

// Suffix sets the text inserted before the extension of minified files, ".min" by default.
func Suffix(suffix string) Option {
	return func(cfg *Config) error {
		cfg.suffix = suffix
		return nil
	}
}

// Static replaces the list of files copied verbatim.  Names are relative to the source directory.
func Static(names ...string) Option {
	return func(cfg *Config) error {
		cfg.static = names
		return nil
	}
}

// Styles replaces the stylesheet patterns, "*.css" by default.  Patterns are relative to the source directory and may
// use "**" to reach into subdirectories.
func Styles(patterns ...string) Option {
	return func(cfg *Config) error { return setPatterns(&cfg.styles, patterns) }
}

// Scripts replaces the script patterns, "*.js" by default.
func Scripts(patterns ...string) Option {
	return func(cfg *Config) error { return setPatterns(&cfg.scripts, patterns) }
}

func setPatterns(field *[]string, patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return errors.Errorf(`invalid pattern %q`, pattern)
		}
	}
	*field = patterns
	return nil
}

// Deps passes options to the library dependency build, see the deps package.
func Deps(options ...deps.Option) Option {
	return func(cfg *Config) error {
		cfg.deps = append(cfg.deps, options...)
		return nil
	}
}

// Minify passes options to the minifier, see the minify package.
func Minify(options ...minify.Option) Option {
	return func(cfg *Config) error {
		cfg.minify = append(cfg.minify, options...)
		return nil
	}
}

// OnRebuild registers a function called after Watch has rebuilt stylesheets ("styles") or scripts ("scripts").
func OnRebuild(fn func(ctx context.Context, what string)) Option {
	return func(cfg *Config) error {
		cfg.rebuilt = append(cfg.rebuilt, fn)
		return nil
	}
}

// Dist returns the output directory.
func (cfg *Config) Dist() string { return cfg.dist }

// DataDir returns the shared data directory that library output is copied into.
func (cfg *Config) DataDir() string { return filepath.Join(cfg.root, `data`) }

// Steps returns the build as a set of steps: clean, then deps, then copy, styles and scripts together.
func (cfg *Config) Steps() []step.Step {
	return []step.Step{
		step.Func(`clean`, cfg.Clean),
		step.Func(`deps`, cfg.BuildDeps, `clean`),
		step.Func(`copy`, cfg.Copy, `deps`),
		step.Func(`styles`, cfg.Styles, `deps`),
		step.Func(`scripts`, cfg.Scripts, `deps`),
	}
}

// Build runs the whole pipeline, stopping at the first failure.
func (cfg *Config) Build(ctx context.Context) error {
	return step.Run(ctx, cfg.Steps()...)
}

// Clean removes the output directory.
func (cfg *Config) Clean(ctx context.Context) error {
	hog.From(ctx).Debug().Str(`dir`, cfg.dist).Msg(`removing output`)
	return files.Clean(cfg.dist)
}

// Copy copies the static files into the output directory.  Every static file must exist.
func (cfg *Config) Copy(ctx context.Context) error {
	for _, name := range cfg.static {
		err := files.CopyFile(filepath.Join(cfg.source, name), filepath.Join(cfg.dist, name))
		if err != nil {
			return err
		}
		hog.From(ctx).Debug().Str(`file`, name).Msg(`copied`)
	}
	return nil
}

// Styles writes a minified copy of every stylesheet into the output directory.
func (cfg *Config) Styles(ctx context.Context) error {
	return cfg.transform(ctx, cfg.styles, minify.CSS)
}

// Scripts writes a minified copy of every script into the output directory.
func (cfg *Config) Scripts(ctx context.Context) error {
	return cfg.transform(ctx, cfg.scripts, minify.JS)
}

// BuildDeps builds the web sub-projects of library dependencies into the shared data directory.
func (cfg *Config) BuildDeps(ctx context.Context) error {
	return deps.Build(ctx, cfg.libdeps, cfg.DataDir(), cfg.deps...)
}

// Libs lists the library dependencies with a web sub-project, in build order.  Extra options apply to this listing
// only, such as deps.AllowMissingRoot.
func (cfg *Config) Libs(extra ...deps.Option) ([]deps.Lib, error) {
	options := append(append([]deps.Option(nil), cfg.deps...), extra...)
	return deps.Discover(cfg.libdeps, options...)
}

type minifier func(ctx context.Context, name string, src []byte, options ...minify.Option) ([]byte, error)

func (cfg *Config) transform(ctx context.Context, patterns []string, fn minifier) error {
	names, err := cfg.Sources(patterns...)
	if err != nil {
		return err
	}
	for _, name := range names {
		src, err := readFile(filepath.Join(cfg.source, name))
		if err != nil {
			return err
		}
		out, err := fn(ctx, name, src, cfg.minify...)
		if err != nil {
			return err
		}
		target := cfg.OutputName(name)
		err = files.WriteFile(filepath.Join(cfg.dist, target), out)
		if err != nil {
			return err
		}
		hog.From(ctx).Debug().Str(`file`, name).Str(`output`, target).
			Int(`before`, len(src)).Int(`after`, len(out)).Msg(`minified`)
	}
	hog.From(ctx).Info().Int(`files`, len(names)).Msg(`minified sources`)
	return nil
}

// Sources returns the sorted, slash separated names of the files below the source directory that match any of the
// patterns.  Each file is listed once.
func (cfg *Config) Sources(patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(dirFS(cfg.source), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Wrapf(err, `while matching %q in %q`, pattern, cfg.source)
		}
		for _, name := range matches {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// OutputName inserts the minified suffix before the extension of name, so "site.css" becomes "site.min.css".
func (cfg *Config) OutputName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + cfg.suffix + ext
}

// Watch rebuilds stylesheets and scripts whenever their sources change, until the context is cancelled.  Failed
// rebuilds are logged and the watch continues.
func (cfg *Config) Watch(ctx context.Context) error {
	cfg.watching = true
	defer func() { cfg.watching = false }()

	styles, err := watcher.Start(ctx, watcher.Directory(cfg.source), watcher.Include(cfg.styles...))
	if err != nil {
		return errors.Wrap(err, `while watching stylesheets`)
	}
	defer styles.Shutdown()
	scripts, err := watcher.Start(ctx, watcher.Directory(cfg.source), watcher.Include(cfg.scripts...))
	if err != nil {
		return errors.Wrap(err, `while watching scripts`)
	}
	defer scripts.Shutdown()

	hog.From(ctx).Info().Str(`dir`, cfg.source).Msg(`watching for changes`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-styles.Alert():
			cfg.rebuild(ctx, `styles`, name, cfg.Styles)
		case name := <-scripts.Alert():
			cfg.rebuild(ctx, `scripts`, name, cfg.Scripts)
		}
	}
}

func (cfg *Config) rebuild(ctx context.Context, what, name string, fn func(context.Context) error) {
	ctx = hog.With(ctx, func(z zerolog.Context) zerolog.Context {
		return z.Str(`step`, what).Str(`changed`, name)
	})
	err := fn(ctx)
	if err != nil {
		hog.From(ctx).Error().Err(err).Msg(`rebuild failed`)
		return
	}
	for _, fn := range cfg.rebuilt {
		fn(ctx, what)
	}
}

func dirFS(dir string) fs.FS { return os.DirFS(dir) }

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	return data, errors.Wrapf(err, `while reading %q`, path)
}
