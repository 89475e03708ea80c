package main

import (
	"context"

	"github.com/mitchellh/colorstring"
	"github.com/swdunlop/pipe-go/pipe"
	"github.com/swdunlop/pipe-go/pipe/deps"
	"github.com/swdunlop/zugzug-go"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "build", Use: "Cleans the output, builds library web sub-projects, then copies and minifies assets",
			Fn: runBuild, Settings: settings},
		{Name: "default", Use: "Same as build", Fn: runBuild, Settings: settings},
		{Name: "styles", Use: "Minifies stylesheets into the output directory", Fn: runStep((*pipe.Config).Styles),
			Settings: settings},
		{Name: "scripts", Use: "Minifies scripts into the output directory", Fn: runStep((*pipe.Config).Scripts),
			Settings: settings},
		{Name: "deps", Use: "Lists library web sub-projects in the order they would be built", Fn: listDeps,
			Settings: settings},
	}...)
}

func runBuild(ctx context.Context) error {
	cfg, err := newPipe()
	if err != nil {
		return err
	}
	return cfg.Build(ctx)
}

func runStep(fn func(*pipe.Config, context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		cfg, err := newPipe()
		if err != nil {
			return err
		}
		return fn(cfg, ctx)
	}
}

func listDeps(ctx context.Context) error {
	cfg, err := newPipe()
	if err != nil {
		return err
	}
	libs, err := cfg.Libs(deps.AllowMissingRoot())
	if err != nil {
		return err
	}
	if len(libs) == 0 {
		colorstring.Printf("[yellow][bold]==>[reset] no library web sub-projects below %s\n", libdepsDir)
		return nil
	}
	for _, lib := range libs {
		colorstring.Printf("[blue][bold]==>[reset] %s [dark_gray](%s)\n", lib, lib.Web)
	}
	return nil
}
