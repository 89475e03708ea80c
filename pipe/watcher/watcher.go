package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/swdunlop/html-go/hog"
)

// Start a watcher with the provided options.  The watcher shuts down when ctx is done or Shutdown is called.
func Start(ctx context.Context, options ...Option) (Interface, error) {
	wr := &watcher{ctx: ctx}
	for _, option := range options {
		err := option(wr)
		if err != nil {
			return nil, err
		}
	}
	err := wr.start()
	if err != nil {
		return nil, err
	}
	return wr, nil
}

// An Option is a function that can manipulate a watcher during construction
type Option func(*watcher) error

// Include specifies one or more file patterns to include in the watch.  Patterns without a path separator are
// matched against the file name, others against the path relative to the watched directory.  A "**/" matches zero or
// more directories.
// If no patterns are specified, all files not starting with a dot are included.
func Include(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.includes, err = appendPatterns(wr.includes, patterns...)
		return
	}
}

// Exclude specifies one or more file patterns to exclude from the watch, matched like Include.
// If no patterns are specified, only files starting with a dot are excluded.
// If a file matches both an include and an exclude pattern, it is excluded.
func Exclude(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.excludes, err = appendPatterns(wr.excludes, patterns...)
		return
	}
}

type pattern struct {
	glob glob.Glob
	path bool // match against the relative path instead of the name
}

func appendPatterns(seq []pattern, patterns ...string) ([]pattern, error) {
	for _, text := range patterns {
		text = filepath.ToSlash(text)
		path := strings.Contains(text, `/`)
		for _, variant := range optionalDirs(text) {
			rx, err := glob.Compile(variant, '/')
			if err != nil {
				return nil, fmt.Errorf(`%w in %q`, err, text)
			}
			seq = append(seq, pattern{rx, path})
		}
	}
	return seq, nil
}

// optionalDirs expands every "**/" in text into a variant with and one without it, so "**/*.css" also matches
// "site.css" the way source globs do.
func optionalDirs(text string) []string {
	parts := strings.Split(text, `**/`)
	variants := []string{parts[0]}
	for _, part := range parts[1:] {
		next := make([]string, 0, len(variants)*2)
		for _, prefix := range variants {
			next = append(next, prefix+`**/`+part, prefix+part)
		}
		variants = next
	}
	return variants
}

// Directory specifies one or more directories to watch recursively.
// If no directories are specified, the current working directory is watched.
func Directory(paths ...string) Option {
	return func(wr *watcher) error {
		wr.directories = append(wr.directories, paths...)
		return nil
	}
}

// Interface describes the watcher interface
type Interface interface {
	// Alert delivers the path of the most recently changed file.  Changes observed while nobody is receiving replace
	// any undelivered change, so a slow receiver only sees the last one.
	Alert() <-chan string
	Shutdown()
}

type watcher struct {
	ctx         context.Context
	includes    []pattern
	excludes    []pattern
	directories []string

	fsnotify   *fsnotify.Watcher
	alertCh    chan string   // holds at most one undelivered change
	shutdownCh chan struct{} // sent when the watcher should shut down
	doneCh     chan struct{} // closed when the watcher is done
}

func (wr *watcher) start() (err error) {
	wr.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if len(wr.directories) == 0 {
		wr.directories = []string{`.`}
	}
	if len(wr.excludes) == 0 {
		wr.excludes = []pattern{{glob.MustCompile(`.*`, '/'), false}}
	}
	for _, dir := range wr.directories {
		err := filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return wr.fsnotify.Add(path)
			}
			return nil
		})
		if err != nil {
			wr.fsnotify.Close()
			return err
		}
	}
	wr.alertCh = make(chan string, 1)
	wr.shutdownCh = make(chan struct{})
	wr.doneCh = make(chan struct{})
	go wr.process()
	return nil
}

func (wr *watcher) Alert() <-chan string {
	return wr.alertCh
}

func (wr *watcher) Shutdown() {
	select {
	case wr.shutdownCh <- struct{}{}:
		<-wr.doneCh
	case <-wr.doneCh:
	}
}

func (wr *watcher) process() {
	defer close(wr.doneCh)
	defer wr.fsnotify.Close()
	for {
		select {
		case <-wr.shutdownCh:
			return
		case <-wr.ctx.Done():
			return
		case err, ok := <-wr.fsnotify.Errors:
			if !ok {
				return
			}
			hog.From(wr.ctx).Warn().Err(err).Msg(`file watcher error`)
		case event, ok := <-wr.fsnotify.Events:
			if !ok {
				return
			}
			wr.processNotification(event)
		}
	}
}

func (wr *watcher) processNotification(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			_ = wr.fsnotify.Add(event.Name)
			return // creating a new directory should not issue an alert, but we should watch it
		}
		wr.issueAlert(event.Name) // editors that save by renaming a temporary file only produce a create
		return
	}

	if event.Has(fsnotify.Write) {
		wr.issueAlert(event.Name)
	} else if event.Has(fsnotify.Remove) {
		_ = wr.fsnotify.Remove(event.Name)
		wr.issueAlert(event.Name)
	} else if event.Has(fsnotify.Rename) {
		wr.issueAlert(event.Name)
	}
}

func (wr *watcher) issueAlert(name string) {
	if !wr.shouldInclude(name) {
		return
	}
	for {
		select {
		case wr.alertCh <- name:
			return
		default:
		}
		select {
		case <-wr.alertCh: // drop the stale change, the newest one wins
		default:
		}
	}
}

func (wr *watcher) shouldInclude(name string) bool {
	base := filepath.Base(name)
	rel := wr.relative(name)
	match := func(p pattern) bool {
		if p.path {
			return p.glob.Match(rel)
		}
		return p.glob.Match(base)
	}

	included := len(wr.includes) == 0
	for _, p := range wr.includes {
		if match(p) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range wr.excludes {
		if match(p) {
			return false
		}
	}
	return true
}

// relative returns name relative to the watched directory containing it, using forward slashes.
func (wr *watcher) relative(name string) string {
	for _, dir := range wr.directories {
		rel, err := filepath.Rel(dir, name)
		if err == nil && rel != `..` && !strings.HasPrefix(rel, `..`+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(name)
}

//TODO: BUG: if a directory is renamed, the watcher may not watch the new name.
