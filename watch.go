package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/swdunlop/zugzug-go"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "watch", Use: "Minifies stylesheets and scripts again whenever they change", Fn: runWatch,
			Settings: settings},
	}...)
}

func runWatch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	cfg, err := newPipe()
	if err != nil {
		return err
	}
	return cfg.Watch(ctx)
}
