package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/httpclient"
	"github.com/glyphmap/tilesync/internal/securefs"
	"github.com/glyphmap/tilesync/internal/tile"
)

// DefaultSessionURL creates Map Tiles API sessions.
const DefaultSessionURL = "https://tile.googleapis.com/v1/createSession"

// SessionFile is the persisted session token and tile parameters.
type SessionFile struct {
	Session     string `json:"session"`
	Expiry      string `json:"expiry"`
	TileWidth   int    `json:"tileWidth"`
	ImageFormat string `json:"imageFormat"`
	TileHeight  int    `json:"tileHeight"`
}

type createSessionRequest struct {
	MapType  string `json:"mapType"`
	Language string `json:"language"`
	Region   string `json:"region"`
}

type createSessionResponse struct {
	Session string `json:"session"`
	Expiry  string `json:"expiry"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// LoadSession reads the session token from a session file. Either the
// "session" or the legacy "session_token" key is accepted.
func LoadSession(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errors.Newf("session file %s not found; run `tilesync session create`", path).
			Category(errors.CategoryConfiguration).
			Component("provider").
			Build()
	}
	if err != nil {
		return "", errors.FileError(err, path, 0)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", errors.New(fmt.Errorf("parsing %s: %w", path, err)).
			Category(errors.CategoryMalformedData).
			Component("provider").
			Build()
	}
	for _, key := range []string{"session", "session_token"} {
		if s, ok := raw[key].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", nil
}

// CreateSession requests a satellite session token and writes it to path.
// endpoint defaults to DefaultSessionURL.
func CreateSession(ctx context.Context, client *httpclient.Client, endpoint, apiKey, path string) (*SessionFile, error) {
	if apiKey == "" {
		return nil, errors.Newf("an API key is required to create a session").
			Category(errors.CategoryConfiguration).
			Component("provider").
			Build()
	}
	if endpoint == "" {
		endpoint = DefaultSessionURL
	}

	payload := createSessionRequest{MapType: "satellite", Language: "en-US", Region: "US"}
	resp, err := client.PostJSON(ctx, endpoint+"?key="+url.QueryEscape(apiKey), payload)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryNetwork).
			Component("provider").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryNetwork).Component("provider").Build()
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiErrorBody
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &RemoteFetchError{Status: resp.StatusCode, Body: msg}
	}

	var created createSessionResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, errors.New(fmt.Errorf("decoding session response: %w", err)).
			Category(errors.CategoryMalformedData).
			Component("provider").
			Build()
	}

	sf := &SessionFile{
		Session:     created.Session,
		Expiry:      created.Expiry,
		TileWidth:   tile.PixelSize,
		ImageFormat: "png",
		TileHeight:  tile.PixelSize,
	}
	out, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryMalformedData).Component("provider").Build()
	}
	if err := securefs.WriteFileAtomic(path, out); err != nil {
		return nil, err
	}
	return sf, nil
}
