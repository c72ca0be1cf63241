// Package tator is a client for the Tator annotation REST API, the remote
// counterpart of the PostgreSQL store.
package tator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/tracklets/internal/types"
)

// ProcessedAttribute is the media attribute stamped once tracking finished.
const ProcessedAttribute = "Tracklet Generator Processed"

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 60 * time.Second

// APIError is a non 2xx answer from the service.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tator %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to one Tator project.
type Client struct {
	BaseURL string
	Token   string
	Project int64
	HTTP    *http.Client
}

// New returns a client with its own http.Client.
func New(baseURL, token string, project int64) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Project: project,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// do sends a JSON request and decodes a JSON answer into out when non nil
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("tator %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// Media fetches one media.
func (c *Client) Media(ctx context.Context, id int64) (types.Media, error) {
	var m types.Media
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rest/Media/%d", id), nil, nil, &m)
	return m, err
}

// localization is the wire shape; confidence and species are attributes
type localization struct {
	ID         int64          `json:"id"`
	Media      int64          `json:"media"`
	Type       int64          `json:"type"`
	Frame      int            `json:"frame"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Attributes map[string]any `json:"attributes"`
}

// Localizations lists the detections of one type on a media. A detection
// without a Confidence attribute counts as certain.
func (c *Client) Localizations(ctx context.Context, mediaID, typeID int64) ([]types.Localization, error) {
	q := url.Values{}
	q.Set("media_id", strconv.FormatInt(mediaID, 10))
	q.Set("type", strconv.FormatInt(typeID, 10))

	var wire []localization
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rest/Localizations/%d", c.Project), q, nil, &wire); err != nil {
		return nil, err
	}

	out := make([]types.Localization, len(wire))
	for i, l := range wire {
		out[i] = types.Localization{
			ID:         l.ID,
			MediaID:    l.Media,
			TypeID:     l.Type,
			Frame:      l.Frame,
			X:          l.X,
			Y:          l.Y,
			Width:      l.Width,
			Height:     l.Height,
			Confidence: 1,
		}
		if conf, ok := l.Attributes["Confidence"].(float64); ok {
			out[i].Confidence = conf
		}
		if species, ok := l.Attributes["Species"].(string); ok {
			out[i].Species = species
		}
	}
	return out, nil
}

// VersionByNumber scans the project versions for the given number.
func (c *Client) VersionByNumber(ctx context.Context, number int) (types.Version, error) {
	var versions []types.Version
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rest/Versions/%d", c.Project), nil, nil, &versions); err != nil {
		return types.Version{}, err
	}
	for _, v := range versions {
		if v.Number == number {
			return v, nil
		}
	}
	return types.Version{}, fmt.Errorf("tator project %d has no version number %d", c.Project, number)
}

type createResponse struct {
	Message string  `json:"message"`
	ID      []int64 `json:"id"`
}

// CreateTracks posts every record in one request. The run id travels as
// the Run attribute.
func (c *Client) CreateTracks(ctx context.Context, runID uuid.UUID, recs []types.TrackRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	type state struct {
		types.TrackRecord
		Run string `json:"Run"`
	}
	body := make([]state, len(recs))
	for i, r := range recs {
		body[i] = state{TrackRecord: r, Run: runID.String()}
	}

	var resp createResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rest/States/%d", c.Project), nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.ID) != len(recs) {
		return nil, fmt.Errorf("tator created %d tracks, expected %d", len(resp.ID), len(recs))
	}
	return resp.ID, nil
}

// MarkProcessed sets the processed attribute of a media to at.
func (c *Client) MarkProcessed(ctx context.Context, mediaID int64, at time.Time) error {
	body := map[string]any{
		"attributes": map[string]string{ProcessedAttribute: at.Format(time.RFC3339)},
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/rest/Media/%d", mediaID), nil, body, nil)
}
