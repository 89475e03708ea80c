package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pipe-go/pipe"
	"github.com/swdunlop/pipe-go/pipe/preview"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
	"golang.org/x/sync/errgroup"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "preview", Use: "Builds, then serves the output and rebuilds it as sources change", Fn: runPreview,
			Parser: parser.New(
				parser.String(&previewDir, "dir", "d", "The directory to serve (default: the output directory)"),
			), Settings: append(zugzug.Settings{
				{Var: &listenAddress, Name: `LISTEN_ADDRESS`,
					Use: "Listening address for the preview service (default: localhost:8080)"},
				{Var: &noBuild, Name: `NO_BUILD`,
					Use: "Serve the existing output without building it first"},
			}, settings...)},
	}...)
}

func runPreview(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	var svr *preview.Server
	cfg, err := newPipe(pipe.OnRebuild(func(ctx context.Context, what string) {
		err := svr.Reload(ctx, what)
		if err != nil {
			hog.From(ctx).Warn().Err(err).Msg(`could not publish reload event`)
		}
	}))
	if err != nil {
		return err
	}
	dir := previewDir
	if dir == `` {
		dir = cfg.Dist()
	}
	svr, err = preview.New(dir)
	if err != nil {
		return err
	}
	if !noBuild {
		err = cfg.Build(ctx)
		if err != nil {
			return err
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return svr.Serve(ctx, listenAddress) })
	group.Go(func() error { return cfg.Watch(ctx) })
	return group.Wait()
}

var (
	previewDir    string
	listenAddress = `localhost:8080`
	noBuild       bool
)
