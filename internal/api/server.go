// Package api exposes the repair operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/mrsinham/dicomfix/internal/batch"
	"github.com/mrsinham/dicomfix/internal/dicom"
	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/observability"
	"github.com/mrsinham/dicomfix/internal/volume"
)

// DefaultMaxUpload caps request bodies when Options.MaxUploadBytes is zero.
const DefaultMaxUpload = 256 << 20

// Options configures a Server. Zero values get working defaults.
type Options struct {
	Fixer  *fixer.Fixer
	Codec  dicom.Codec
	Slicer *volume.Slicer

	Classifier batch.Classifier
	// Geometry is used for raw batch entries when the request does not give one.
	Geometry *fixer.Params

	MaxUploadBytes  int64
	MaxArchiveBytes int64
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	// NewUID generates study context identifiers. Defaults to record.NewUID.
	NewUID func() string
}

// Server is the HTTP front end.
type Server struct {
	opts    Options
	handler http.Handler
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	if opts.Fixer == nil {
		opts.Fixer = fixer.New(nil)
	}
	if opts.Slicer == nil {
		opts.Slicer = volume.NewSlicer(opts.Fixer)
	}
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUpload
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{opts: opts}

	mux := http.NewServeMux()
	s.route(mux, "POST /fixdicom", s.handleFixRaw)
	s.route(mux, "POST /fixdicom/file", s.handleFixFile)
	s.route(mux, "POST /fiximage", s.handleFixImage)
	s.route(mux, "POST /fixbatch", s.handleFixBatch)
	s.route(mux, "POST /nifti2dicom", s.handleNifti)
	s.route(mux, "GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		ExposedHeaders: []string{headerAttempted, headerFailed, "Content-Disposition"},
	})
	s.handler = c.Handler(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handlerFunc handles a request and returns the error to report, if any.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// route registers h under pattern with body limits, panic recovery, error
// rendering and request counting.
func (s *Server) route(mux *http.ServeMux, pattern string, h handlerFunc) {
	_, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		err := s.serve(h, rw, r)
		if err != nil {
			status, body := errorResponse(err)
			s.opts.Logger.WithRequest(r.Method, path).RequestFailed(status, body.Error, err)
			if !rw.wrote {
				writeJSON(rw, status, body)
			}
		}
		s.opts.Metrics.RecordRequest(path, rw.status)
	})
}

func (s *Server) serve(h handlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &fixer.InternalError{Op: "handle " + r.URL.Path, Err: fmt.Errorf("panic: %v", p)}
			s.opts.Logger.Error(err, "handler panic")
		}
	}()
	return h(w, r)
}

// statusWriter records the status code and whether a body was started.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(p)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.opts.Logger.ServerStarted(ln.Addr().String(), s.opts.MaxUploadBytes)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.opts.Logger.ServerStopped()
	return err
}
