// Package preview serves a build output directory over HTTP for local development.  Browsers can observe when the
// output has been rebuilt by subscribing to server sent events at /_pipe/reload.
package preview

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/swdunlop/html-go/hog"
	sse "github.com/tmaxmax/go-sse"
)

// ReloadPath is where reload events are published.
const ReloadPath = `/_pipe/reload`

// New returns a preview server for dir.
func New(dir string, options ...Option) (*Server, error) {
	svr := &Server{dir: dir, events: &sse.Server{}}
	for _, option := range options {
		err := option(svr)
		if err != nil {
			return nil, err
		}
	}
	return svr, nil
}

// A Server serves static files and reload events.
type Server struct {
	dir      string
	events   *sse.Server
	handlers []patternHandler
	listen   net.ListenConfig
}

type patternHandler struct {
	pattern string
	handler http.Handler
}

// An Option is a function that modifies a Server before it is used.
type Option func(*Server) error

// Handle adds a handler for a http.ServeMux pattern, taking precedence over static files.
func Handle(pattern string, handler http.Handler) Option {
	return func(svr *Server) error {
		if pattern == `` || handler == nil {
			return errors.New(`preview handlers need a pattern and a handler`)
		}
		svr.handlers = append(svr.handlers, patternHandler{pattern, handler})
		return nil
	}
}

// ListenConfig adjusts the net.ListenConfig used to create the listener.
func ListenConfig(options ...func(*net.ListenConfig)) Option {
	return func(svr *Server) error {
		for _, option := range options {
			option(&svr.listen)
		}
		return nil
	}
}

// Handler returns the HTTP handler for static files and reload events.
func (svr *Server) Handler() http.Handler {
	var mux http.ServeMux
	mux.Handle(`/`, http.FileServer(http.Dir(svr.dir)))
	mux.Handle(ReloadPath, svr.events)
	for _, it := range svr.handlers {
		mux.Handle(it.pattern, it.handler)
	}
	return &mux
}

// Reload tells subscribed browsers that the output has changed; what names the step that rebuilt it.
func (svr *Server) Reload(ctx context.Context, what string) error {
	msg := &sse.Message{Type: sse.Type(`reload`)}
	msg.AppendData(what)
	err := svr.events.Publish(msg)
	if err != nil {
		return err
	}
	hog.From(ctx).Debug().Str(`what`, what).Msg(`published reload event`)
	return nil
}

// Serve listens on the TCP address and serves until the context is cancelled.
func (svr *Server) Serve(ctx context.Context, address string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lr, err := svr.listen.Listen(ctx, `tcp`, address)
	if err != nil {
		return err
	}
	// no need to defer lr.Close, hs.Shutdown will close it

	hs := http.Server{Handler: svr.Handler()}
	go func() {
		<-ctx.Done()
		_ = svr.events.Shutdown(context.Background())
		_ = hs.Shutdown(context.Background())
	}()

	hog.From(ctx).Info().Str(`address`, lr.Addr().String()).Str(`dir`, svr.dir).Msg(`starting preview service`)
	err = hs.Serve(lr)
	hog.From(ctx).Info().Err(err).Msg(`preview service stopped`)
	if err == http.ErrServerClosed {
		return nil
	}
	_ = lr.Close() // just in case, since we did not have a shutdown or server close.
	return err
}
