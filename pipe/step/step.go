// Package step runs a set of named build steps in dependency order.  Steps whose dependencies have all finished run
// together as a wave; the first failure cancels the rest of its wave and stops the run.
package step

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"golang.org/x/sync/errgroup"
)

// A Step is a named unit of work in a pipeline.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

// A Dependent step will not be run until every step it names has finished.
type Dependent interface {
	DependsOn() []string
}

// Func returns a step that calls fn after the named steps have finished.
func Func(name string, fn func(context.Context) error, after ...string) Step {
	return &funcStep{name: name, fn: fn, after: after}
}

type funcStep struct {
	name  string
	fn    func(context.Context) error
	after []string
}

func (fs *funcStep) Name() string                  { return fs.name }
func (fs *funcStep) Run(ctx context.Context) error { return fs.fn(ctx) }
func (fs *funcStep) DependsOn() []string           { return fs.after }

// Waves groups steps so that every step appears after all of its dependencies.  Within a wave, steps keep the order
// they were provided in.  Unknown dependencies, duplicate names and cycles are errors.
func Waves(steps ...Step) ([][]Step, error) {
	index := make(map[string]int, len(steps))
	for i, it := range steps {
		name := it.Name()
		if _, dup := index[name]; dup {
			return nil, errors.Errorf(`step %q defined twice`, name)
		}
		index[name] = i
	}

	const (
		unplaced = iota
		placing
		placed
	)
	state := make([]int, len(steps))
	level := make([]int, len(steps))
	var place func(int) error
	place = func(i int) error {
		switch state[i] {
		case placed:
			return nil
		case placing:
			return errors.Errorf(`step %q is part of a dependency cycle`, steps[i].Name())
		}
		state[i] = placing
		if dependent, ok := steps[i].(Dependent); ok {
			for _, name := range dependent.DependsOn() {
				j, ok := index[name]
				if !ok {
					return errors.Errorf(`step %q depends on unknown step %q`, steps[i].Name(), name)
				}
				err := place(j)
				if err != nil {
					return err
				}
				if level[j]+1 > level[i] {
					level[i] = level[j] + 1
				}
			}
		}
		state[i] = placed
		return nil
	}
	depth := 0
	for i := range steps {
		err := place(i)
		if err != nil {
			return nil, err
		}
		if level[i]+1 > depth {
			depth = level[i] + 1
		}
	}

	order := make([]int, len(steps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return level[order[a]] < level[order[b]] })
	waves := make([][]Step, depth)
	for _, i := range order {
		waves[level[i]] = append(waves[level[i]], steps[i])
	}
	return waves, nil
}

// Run runs the steps wave by wave.  Steps in the same wave run concurrently.
func Run(ctx context.Context, steps ...Step) error {
	waves, err := Waves(steps...)
	if err != nil {
		return err
	}
	for _, wave := range waves {
		group, ctx := errgroup.WithContext(ctx)
		for _, it := range wave {
			group.Go(func() error {
				return runStep(ctx, it)
			})
		}
		err = group.Wait()
		if err != nil {
			return err
		}
	}
	return nil
}

func runStep(ctx context.Context, it Step) error {
	name := it.Name()
	ctx = hog.With(ctx, func(z zerolog.Context) zerolog.Context { return z.Str(`step`, name) })
	if err := ctx.Err(); err != nil {
		return err
	}
	hog.From(ctx).Debug().Msg(`starting`)
	err := it.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, `step %q failed`, name)
	}
	hog.From(ctx).Info().Msg(`finished`)
	return nil
}
