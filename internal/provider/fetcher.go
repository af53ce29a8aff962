// Package provider downloads satellite tiles from the remote map tile
// service and stores them in the local collection.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/httpclient"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/observability/metrics"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

// DefaultURLTemplate is the Google Map Tiles 2D endpoint.
const DefaultURLTemplate = "https://tile.googleapis.com/v1/2dtiles/{z}/{x}/{y}?session={session}&key={key}"

// maxErrorBody bounds how much of a failed response is kept for the reason.
const maxErrorBody = 512

// RemoteFetchError reports a non-2xx answer from the tile service.
type RemoteFetchError struct {
	Status int
	Body   string
}

func (e *RemoteFetchError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, e.Body)
}

// ErrorCategory classifies the error for reporting.
func (e *RemoteFetchError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryRemoteFetch
}

// Sink is where fetched tiles land: it names the canonical path for a key and
// records keys whose file has been written.
type Sink interface {
	Path(k tile.Key) string
	Added(k tile.Key)
}

// Request identifies one tile to fetch.
type Request struct {
	Key       tile.Key
	Zoom      int
	Session   string
	Overwrite bool
}

// Result tells whether a fetch performed a download.
type Result struct {
	Downloaded bool
	Bytes      int64
}

// Config configures a Fetcher.
type Config struct {
	URLTemplate string
	APIKey      string
	// Session is used when a request carries none
	Session string
}

// Fetcher downloads single tiles.
type Fetcher struct {
	cfg     Config
	client  *httpclient.Client
	sink    Sink
	metrics *metrics.ProviderMetrics
	log     logger.Logger
}

// NewFetcher creates a fetcher writing into sink. m may be nil.
func NewFetcher(cfg Config, client *httpclient.Client, sink Sink, m *metrics.ProviderMetrics, log logger.Logger) *Fetcher {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if log == nil {
		log = logger.Global().Module("provider")
	}
	return &Fetcher{cfg: cfg, client: client, sink: sink, metrics: m, log: log}
}

// TileURL expands the URL template for a request.
func (f *Fetcher) TileURL(req Request) string {
	session := req.Session
	if session == "" {
		session = f.cfg.Session
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(req.Zoom),
		"{x}", strconv.Itoa(req.Key.X),
		"{y}", strconv.Itoa(req.Key.Y),
		"{session}", url.QueryEscape(session),
		"{key}", url.QueryEscape(f.cfg.APIKey),
	)
	return r.Replace(f.cfg.URLTemplate)
}

// Fetch downloads one tile unless it already exists and overwrite is off, in
// which case no request is made. The body is streamed to a temporary file and
// renamed into place, then the key is recorded in the sink.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	if !req.Key.Valid(req.Zoom) {
		return Result{}, errors.Newf("tile %s outside zoom %d grid", req.Key, req.Zoom).
			Category(errors.CategoryValidation).
			Component("provider").
			Build()
	}

	path := f.sink.Path(req.Key)
	if !req.Overwrite {
		exists, err := securefs.Exists(path)
		if err != nil {
			return Result{}, err
		}
		if exists {
			f.metrics.IncSkipped()
			return Result{}, nil
		}
	}

	start := time.Now()
	resp, err := f.client.Get(ctx, f.TileURL(req))
	if err != nil {
		f.metrics.IncFetchError(0, "transport")
		if ctx.Err() != nil {
			return Result{}, errors.New(err).
				Category(errors.CategoryCancellation).
				Component("provider").
				TileContext(req.Zoom, req.Key.X, req.Key.Y).
				Build()
		}
		return Result{}, errors.New(err).
			Category(errors.CategoryNetwork).
			Component("provider").
			TileContext(req.Zoom, req.Key.X, req.Key.Y).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		f.metrics.IncFetchError(resp.StatusCode, "status")
		return Result{}, &RemoteFetchError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	n, err := securefs.WriteAtomic(path, resp.Body)
	if err != nil {
		f.metrics.IncFetchError(resp.StatusCode, "write")
		return Result{}, err
	}
	f.sink.Added(req.Key)
	f.metrics.ObserveDownload(time.Since(start), n)
	f.log.Debug("tile downloaded",
		logger.String("tile", req.Key.String()),
		logger.Int64("bytes", n),
		logger.Duration("elapsed", time.Since(start)))
	return Result{Downloaded: true, Bytes: n}, nil
}
