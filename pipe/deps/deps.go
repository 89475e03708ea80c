// Package deps builds the web sub-projects of library dependencies.
//
// Libraries are found two levels below a dependency root, organized as <env>/<lib>.  A library takes part when its web
// directory holds a build descriptor; its build command runs in that directory and whatever the build leaves in the
// library's data directory is then copied over the shared data directory of the project.
package deps

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pipe-go/pipe/files"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultCommand is the shell command used to install and build a sub-project.
const DefaultCommand = `npm install && npm run build`

// A Lib is a library with a buildable web sub-project.
type Lib struct {
	Env  string // environment directory name
	Name string // library directory name
	Dir  string // library directory
	Web  string // directory of the sub-project, where the build runs
	Data string // directory the sub-project writes its output to
}

func (lib Lib) String() string { return lib.Env + `/` + lib.Name }

// Discover lists the libraries below root that have a web sub-project, sorted by environment and then library name.
// A missing root is an error unless AllowMissingRoot is given.
func Discover(root string, options ...Option) ([]Lib, error) {
	cfg, err := newConfig(options...)
	if err != nil {
		return nil, err
	}
	return cfg.discover(root)
}

// Build discovers the libraries below root and builds them one at a time, copying their output into dataDir.  The
// first failure stops the build.
func Build(ctx context.Context, root, dataDir string, options ...Option) error {
	cfg, err := newConfig(options...)
	if err != nil {
		return err
	}
	libs, err := cfg.discover(root)
	if err != nil {
		return err
	}
	if len(libs) == 0 {
		hog.From(ctx).Debug().Str(`root`, root).Msg(`no library sub-projects found`)
	}
	for _, lib := range libs {
		err = cfg.build(ctx, lib, dataDir)
		if err != nil {
			return err
		}
	}
	return nil
}

// An Option changes how libraries are discovered or built.
type Option func(*config) error

// Command sets the shell command run in each sub-project, see DefaultCommand.
func Command(command string) Option {
	return func(cfg *config) error {
		file, err := syntax.NewParser().Parse(strings.NewReader(command), `command`)
		if err != nil {
			return errors.Wrapf(err, `while parsing build command %q`, command)
		}
		cfg.command = command
		cfg.program = file
		return nil
	}
}

// Descriptor sets the file names that mark a web directory as a buildable sub-project.  Any one of them is enough.
func Descriptor(names ...string) Option {
	return func(cfg *config) error {
		if len(names) == 0 {
			return errors.New(`at least one build descriptor is required`)
		}
		cfg.descriptors = names
		return nil
	}
}

// Output sets where the output of sub-project builds is sent, by default the process's standard output and error.
func Output(stdout, stderr io.Writer) Option {
	return func(cfg *config) error {
		cfg.stdout, cfg.stderr = stdout, stderr
		return nil
	}
}

// Input sets what sub-project builds read as standard input, by default the process's standard input so that
// prompts from package managers reach the user.
func Input(stdin io.Reader) Option {
	return func(cfg *config) error {
		cfg.stdin = stdin
		return nil
	}
}

// AllowMissingRoot treats a missing dependency root as having no libraries.  Listing uses this for projects that
// have not been through the firmware toolchain yet; builds do not.
func AllowMissingRoot() Option {
	return func(cfg *config) error {
		cfg.allowMissing = true
		return nil
	}
}

// Layout overrides the names of the sub-project and output directories inside each library, "web" and "data".
func Layout(webDir, dataDir string) Option {
	return func(cfg *config) error {
		cfg.webDir, cfg.dataDir = webDir, dataDir
		return nil
	}
}

type config struct {
	command      string
	program      *syntax.File
	descriptors  []string
	webDir       string
	dataDir      string
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
	allowMissing bool
}

func newConfig(options ...Option) (*config, error) {
	cfg := &config{
		descriptors: []string{`gulpfile.js`},
		webDir:      `web`,
		dataDir:     `data`,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
	}
	options = append([]Option{Command(DefaultCommand)}, options...)
	for _, option := range options {
		err := option(cfg)
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (cfg *config) discover(root string) ([]Lib, error) {
	envs, err := readDirs(root)
	if cfg.allowMissing && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var libs []Lib
	for _, env := range envs {
		names, err := readDirs(filepath.Join(root, env))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			lib := Lib{
				Env:  env,
				Name: name,
				Dir:  filepath.Join(root, env, name),
			}
			lib.Web = filepath.Join(lib.Dir, cfg.webDir)
			lib.Data = filepath.Join(lib.Dir, cfg.dataDir)
			ok, err := cfg.buildable(lib.Web)
			if err != nil {
				return nil, err
			}
			if ok {
				libs = append(libs, lib)
			}
		}
	}
	return libs, nil
}

func (cfg *config) buildable(dir string) (bool, error) {
	for _, name := range cfg.descriptors {
		ok, err := files.Exists(filepath.Join(dir, name))
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

// readDirs returns the sorted names of the directories in dir.
func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, `while listing %q`, dir)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (cfg *config) build(ctx context.Context, lib Lib, dataDir string) error {
	ctx = hog.With(ctx, func(z zerolog.Context) zerolog.Context {
		return z.Str(`env`, lib.Env).Str(`lib`, lib.Name)
	})
	hog.From(ctx).Info().Str(`command`, cfg.command).Msg(`building library web sub-project`)
	err := cfg.run(ctx, lib.Web)
	if err != nil {
		return &BuildError{Lib: lib, Err: err}
	}
	err = files.CopyTree(lib.Data, dataDir)
	if err != nil {
		return errors.Wrapf(err, `while copying output of %v`, lib)
	}
	hog.From(ctx).Info().Str(`data`, dataDir).Msg(`copied library output`)
	return nil
}

func (cfg *config) run(ctx context.Context, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(cfg.stdin, cfg.stdout, cfg.stderr),
	)
	if err != nil {
		return err
	}
	return runner.Run(ctx, cfg.program)
}

// BuildError reports a library whose build command failed.
type BuildError struct {
	Lib Lib
	Err error
}

func (err *BuildError) Error() string {
	return `build of ` + err.Lib.String() + ` failed: ` + err.Err.Error()
}

func (err *BuildError) Unwrap() error { return err.Err }
