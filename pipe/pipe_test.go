package pipe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdunlop/pipe-go/pipe/deps"
)

var favicon = []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x10, 0x10, 0xff}

// project lays out a firmware project below a temporary directory and returns a pipeline for it.
func project(t *testing.T, options ...Option) (*Config, string) {
	t.Helper()
	root := t.TempDir()
	write := func(path string, data []byte) {
		path = filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	write(`web/src/fav.ico`, favicon)
	write(`web/src/site.css`, []byte("body {\n  color: red;\n}\n"))
	write(`web/src/theme.css`, []byte("/* dark */\nhtml {\n  background: black;\n}\n"))
	write(`web/src/app.js`, []byte("function greet(name) {\n  var message = 'hello ' + name;\n  return message;\n}\n"))
	write(`web/src/notes.txt`, []byte(`not a source`))
	write(`.pio/libdeps/esp8266/RadioPortal/web/gulpfile.js`, nil)
	write(`.pio/libdeps/esp8266/RadioPortal/data/.keep`, nil)
	write(`.pio/libdeps/esp8266/Plain/library.json`, nil)
	write(`data/web/stale.min.js`, []byte(`stale`))

	options = append([]Option{
		Source(filepath.Join(root, `web`, `src`)),
		Dist(filepath.Join(root, `data`, `web`)),
		Root(root),
		Libdeps(filepath.Join(root, `.pio`, `libdeps`)),
		Deps(
			deps.Command(`echo radio > ../data/radio.txt`),
			deps.Output(&bytes.Buffer{}, &bytes.Buffer{}),
		),
	}, options...)
	cfg, err := New(options...)
	require.NoError(t, err)
	return cfg, root
}

func listDist(t *testing.T, cfg *Config) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(cfg.Dist(), func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			rel, _ := filepath.Rel(cfg.Dist(), path)
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestBuild(t *testing.T) {
	cfg, root := project(t)
	require.NoError(t, cfg.Build(context.Background()))

	assert.ElementsMatch(t, []string{`fav.ico`, `site.min.css`, `theme.min.css`, `app.min.js`}, listDist(t, cfg))

	ico, err := os.ReadFile(filepath.Join(cfg.Dist(), `fav.ico`))
	require.NoError(t, err)
	assert.Equal(t, favicon, ico)

	css, err := os.ReadFile(filepath.Join(cfg.Dist(), `theme.min.css`))
	require.NoError(t, err)
	assert.Contains(t, string(css), `html{`)
	assert.NotContains(t, string(css), `dark`)

	js, err := os.ReadFile(filepath.Join(cfg.Dist(), `app.min.js`))
	require.NoError(t, err)
	assert.Contains(t, string(js), `function greet(`)
	assert.NotContains(t, string(js), `message`)

	radio, err := os.ReadFile(filepath.Join(root, `data`, `radio.txt`))
	require.NoError(t, err)
	assert.Equal(t, "radio\n", string(radio))
	_, err = os.Stat(filepath.Join(root, `data`, `library.json`))
	assert.True(t, os.IsNotExist(err))
}

func TestBuildTwiceIsStable(t *testing.T) {
	cfg, _ := project(t)
	require.NoError(t, cfg.Build(context.Background()))
	first := listDist(t, cfg)
	require.NoError(t, cfg.Build(context.Background()))
	assert.ElementsMatch(t, first, listDist(t, cfg))
}

func TestBuildFailsOnSubBuild(t *testing.T) {
	cfg, _ := project(t, Deps(deps.Command(`exit 1`)))
	err := cfg.Build(context.Background())
	require.Error(t, err)
	var buildErr *deps.BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, `RadioPortal`, buildErr.Lib.Name)

	// clean ran, but nothing after the failed step did.
	_, err = os.Stat(cfg.Dist())
	assert.True(t, os.IsNotExist(err))
}

func TestBuildFailsOnMissingLibdeps(t *testing.T) {
	cfg, root := project(t)
	require.NoError(t, cfg.Apply(Libdeps(filepath.Join(root, `missing`))))
	err := cfg.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), `step "deps" failed`)
	_, err = os.Stat(cfg.Dist())
	assert.True(t, os.IsNotExist(err), `nothing is written after the failed step`)

	libs, err := cfg.Libs(deps.AllowMissingRoot())
	require.NoError(t, err)
	assert.Empty(t, libs)
}

func TestCopyRequiresStaticFiles(t *testing.T) {
	cfg, _ := project(t, Static(`fav.ico`, `missing.png`))
	err := cfg.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing.png`)
}

func TestBuildFailsOnBrokenScript(t *testing.T) {
	cfg, root := project(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, `web`, `src`, `broken.js`), []byte(`function (`), 0o644))
	err := cfg.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `broken.js`)
}

func TestSourcesAndOutputNames(t *testing.T) {
	cfg, root := project(t, Styles(`*.css`, `site.css`, `**/*.css`))
	require.NoError(t, os.MkdirAll(filepath.Join(root, `web`, `src`, `vendor`), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, `web`, `src`, `vendor`, `grid.css`), nil, 0o644))

	names, err := cfg.Sources(cfg.styles...)
	require.NoError(t, err)
	assert.Equal(t, []string{`site.css`, `theme.css`, `vendor/grid.css`}, names)

	assert.Equal(t, `site.min.css`, cfg.OutputName(`site.css`))
	assert.Equal(t, `vendor/grid.min.css`, cfg.OutputName(`vendor/grid.css`))
	assert.Equal(t, `jquery.min.min.js`, cfg.OutputName(`jquery.min.js`))
}

func TestOptionsValidate(t *testing.T) {
	_, err := New(Source(``))
	assert.Error(t, err)
	_, err = New(Styles(`[`))
	assert.Error(t, err)
}

func TestLibs(t *testing.T) {
	cfg, _ := project(t)
	libs, err := cfg.Libs()
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, `esp8266/RadioPortal`, libs[0].String())
}

func TestWatch(t *testing.T) {
	rebuilt := make(chan string, 8)
	cfg, root := project(t, OnRebuild(func(_ context.Context, what string) { rebuilt <- what }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cfg.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// watchers register asynchronously, so keep editing until the rebuild shows up.
	site := filepath.Join(root, `web`, `src`, `site.css`)
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), `no rebuild observed`)
		require.NoError(t, os.WriteFile(site, []byte("main {\n  color: blue;\n}\n"), 0o644))
		select {
		case what := <-rebuilt:
			assert.Equal(t, `styles`, what)
			css, err := os.ReadFile(filepath.Join(cfg.Dist(), `site.min.css`))
			require.NoError(t, err)
			assert.Contains(t, string(css), `main{`)
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
