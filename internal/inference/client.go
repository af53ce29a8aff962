// Package inference forwards model runs to the external inference service
// and records the predictions it produces in the local tile store.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/httpclient"
	"github.com/glyphmap/tilesync/internal/logger"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
	"github.com/glyphmap/tilesync/internal/tilestore"
)

const (
	// DefaultModelCacheTTL is how long the model list is served from memory.
	DefaultModelCacheTTL = 5 * time.Minute

	modelsCacheKey = "models"
	maxErrorBody   = 4096
)

// TileRef addresses a tile in inference requests and responses.
type TileRef struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key converts the reference to a tile key.
func (t TileRef) Key() tile.Key { return tile.Key{X: t.X, Y: t.Y} }

// Request is forwarded verbatim to the inference service.
type Request struct {
	Tiles        []TileRef `json:"tiles"`
	ModelName    string    `json:"model_name"`
	PatchSize    *int      `json:"patch_size,omitempty"`
	Stride       *int      `json:"stride,omitempty"`
	UseTTA       *bool     `json:"use_tta,omitempty"`
	UseOAI       *bool     `json:"use_oai,omitempty"`
	OAIModelName string    `json:"oai_model_name"`
}

// TilePrediction is one probability map returned by the service.
type TilePrediction struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	ProbPNGB64 string `json:"prob_png_b64"`
}

// OAITilePrediction is one semantic classification returned by the service.
type OAITilePrediction struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Prob        float64 `json:"prob"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
}

// Response is the service's answer, plus the collection the results were
// stored under.
type Response struct {
	Message        string              `json:"message"`
	Predictions    []TilePrediction    `json:"predictions"`
	OAIPredictions []OAITilePrediction `json:"oai_predictions"`
	Model          string              `json:"model"`
}

// ServiceError is a non-2xx answer from the inference service.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("inference service returned HTTP %d: %s", e.Status, e.Body)
}

// ErrorCategory maps a missing model to not-found.
func (e *ServiceError) ErrorCategory() errors.ErrorCategory {
	if e.Status == http.StatusNotFound {
		return errors.CategoryNotFound
	}
	return errors.CategoryInference
}

// Config configures a Client.
type Config struct {
	URL           string
	ModelCacheTTL time.Duration
}

// Client talks to the inference service.
type Client struct {
	base   string
	http   *httpclient.Client
	store  *tilestore.Store
	models *cache.Cache
	log    logger.Logger
}

// NewClient creates a client. store receives the returned predictions.
func NewClient(cfg Config, hc *httpclient.Client, store *tilestore.Store, log logger.Logger) *Client {
	ttl := cfg.ModelCacheTTL
	if ttl <= 0 {
		ttl = DefaultModelCacheTTL
	}
	if log == nil {
		log = logger.Global().Module("inference")
	}
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		http:   hc,
		store:  store,
		models: cache.New(ttl, 2*ttl),
		log:    log,
	}
}

// ShortModelName derives the collection name from a checkpoint path such as
// "dazzling-plasma-63-sf-b5/best.ckpt" -> "dazzling-plasma-63".
func ShortModelName(modelPath string) string {
	if modelPath == "" {
		return "unknown_model"
	}
	run, _, _ := strings.Cut(strings.ReplaceAll(modelPath, `\`, "/"), "/")
	parts := strings.Split(run, "-")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "-")
}

// ListModels returns the checkpoints the service can load, cached for the
// configured TTL.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if v, ok := c.models.Get(modelsCacheKey); ok {
		return v.([]string), nil
	}

	resp, err := c.http.Get(ctx, c.base+"/models")
	if err != nil {
		return nil, c.networkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var models []string
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, errors.New(fmt.Errorf("decoding model list: %w", err)).
			Category(errors.CategoryMalformedData).
			Component("inference").
			Build()
	}
	if models == nil {
		models = []string{}
	}
	c.models.SetDefault(modelsCacheKey, models)
	return models, nil
}

// Run forwards a request and records the results: prediction overlays are
// registered in the model's prediction index (written from the response if
// the service did not leave a file), and OAI records are saved and indexed.
func (c *Client) Run(ctx context.Context, req Request) (*Response, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}
	model := ShortModelName(req.ModelName)
	if err := securefs.ValidateName(model); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.PostJSON(ctx, c.base+"/inference", req)
	if err != nil {
		return nil, c.networkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(fmt.Errorf("decoding inference response: %w", err)).
			Category(errors.CategoryMalformedData).
			Component("inference").
			Build()
	}
	out.Model = model

	if err := c.record(model, req, &out); err != nil {
		return &out, err
	}
	c.log.Info("inference completed",
		logger.String("model", model),
		logger.Int("tiles", len(req.Tiles)),
		logger.Int("predictions", len(out.Predictions)),
		logger.Int("oai_predictions", len(out.OAIPredictions)),
		logger.Duration("elapsed", time.Since(start)))
	return &out, nil
}

func (c *Client) validate(req Request) error {
	if len(req.Tiles) == 0 || req.ModelName == "" {
		return errors.ValidationError("tiles and model_name are required")
	}
	for _, t := range req.Tiles {
		if !t.Key().Valid(c.store.Zoom()) {
			return errors.ValidationError(fmt.Sprintf("tile %s outside zoom %d grid", t.Key(), c.store.Zoom()))
		}
	}
	return nil
}

func (c *Client) record(model string, req Request, out *Response) error {
	var errs []error

	preds, err := c.store.Predictions(model)
	if err != nil {
		return err
	}
	for _, p := range out.Predictions {
		k := tile.Key{X: p.X, Y: p.Y}
		if !k.Valid(c.store.Zoom()) {
			continue
		}
		if err := c.ensureOverlay(preds.Path(k), p.ProbPNGB64); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.store.RegisterPrediction(model, k); err != nil {
			errs = append(errs, err)
		}
	}

	if req.UseOAI != nil && *req.UseOAI {
		oai, err := c.store.OAI(model)
		if err != nil {
			return err
		}
		// the service replaces the records of every requested tile
		for _, t := range req.Tiles {
			oai.Remove(t.Key())
		}
		for _, p := range out.OAIPredictions {
			k := tile.Key{X: p.X, Y: p.Y}
			rec := tilestore.OAIPrediction{Label: p.Label, Prob: p.Prob, Description: p.Description}
			if err := c.store.SaveOAIPrediction(model, k, rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ensureOverlay writes the returned probability map unless the service
// already stored it where we can see it.
func (c *Client) ensureOverlay(path, b64 string) error {
	exists, err := securefs.Exists(path)
	if err != nil || exists || b64 == "" {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return errors.New(fmt.Errorf("decoding prediction overlay: %w", err)).
			Category(errors.CategoryMalformedData).
			Component("inference").
			Build()
	}
	_, err = securefs.WriteAtomic(path, bytes.NewReader(data))
	return err
}

func (c *Client) networkError(err error) error {
	return errors.New(err).
		Category(errors.CategoryNetwork).
		Component("inference").
		Context("service", c.base).
		Build()
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ServiceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
