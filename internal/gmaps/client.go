// Package gmaps is a thin client for the three Google Maps Platform web
// service endpoints the pipeline uses: Geocoding, Distance Matrix and Places
// text search. It does transport and status decoding only; retry, rate
// limiting and budgets live with the callers.
package gmaps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"finnscout/internal/geo"
)

const (
	defaultBaseURL = "https://maps.googleapis.com"

	geocodePath  = "/maps/api/geocode/json"
	distancePath = "/maps/api/distancematrix/json"
	placesPath   = "/maps/api/place/textsearch/json"
)

// Client calls the Maps web services.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a Client. logger may be nil.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

// Mode selects the travel mode for distance queries.
type Mode string

const (
	ModeWalking Mode = "walking"
	ModeTransit Mode = "transit"
)

// RouteResult is one origin-destination leg from the Distance Matrix API.
type RouteResult struct {
	DistanceKm      float64
	DurationMinutes float64
}

// Place is one hit from a Places text search.
type Place struct {
	Name     string
	PlaceID  string
	Location geo.LatLng
}

// Geocode resolves an address to coordinates. A well-formed response with no
// results returns (nil, nil): the address is simply not resolvable, which is
// a data outcome, not a transport failure.
func (c *Client) Geocode(ctx context.Context, address, region string) (*geo.LatLng, error) {
	q := url.Values{}
	q.Set("address", address)
	if region != "" {
		q.Set("region", region)
	}

	var resp struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Geometry struct {
				Location geo.LatLng `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := c.get(ctx, geocodePath, q, &resp.Status, &resp); err != nil {
		return nil, err
	}
	if resp.Status == statusZeroResults || len(resp.Results) == 0 {
		return nil, nil
	}
	loc := resp.Results[0].Geometry.Location
	return &loc, nil
}

// DistanceMatrix computes a single origin-destination route for the given
// mode. An unreachable pair returns (nil, nil).
func (c *Client) DistanceMatrix(ctx context.Context, origin, dest geo.LatLng, mode Mode) (*RouteResult, error) {
	q := url.Values{}
	q.Set("origins", formatLatLng(origin))
	q.Set("destinations", formatLatLng(dest))
	q.Set("mode", string(mode))

	var resp struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Rows         []struct {
			Elements []struct {
				Status   string `json:"status"`
				Distance struct {
					Meters float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Seconds float64 `json:"value"`
				} `json:"duration"`
			} `json:"elements"`
		} `json:"rows"`
	}
	if err := c.get(ctx, distancePath, q, &resp.Status, &resp); err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return nil, nil
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != statusOK {
		// ZERO_RESULTS here means no route for this mode (e.g. no transit
		// service). NOT_FOUND and friends are equally terminal per pair.
		return nil, nil
	}
	return &RouteResult{
		DistanceKm:      el.Distance.Meters / 1000,
		DurationMinutes: el.Duration.Seconds / 60,
	}, nil
}

// PlaceTextSearch finds places matching query within radius meters of
// location.
func (c *Client) PlaceTextSearch(ctx context.Context, query string, location geo.LatLng, radiusMeters int) ([]Place, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("location", formatLatLng(location))
	q.Set("radius", strconv.Itoa(radiusMeters))

	var resp struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Name     string `json:"name"`
			PlaceID  string `json:"place_id"`
			Geometry struct {
				Location geo.LatLng `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := c.get(ctx, placesPath, q, &resp.Status, &resp); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		places = append(places, Place{
			Name:     r.Name,
			PlaceID:  r.PlaceID,
			Location: r.Geometry.Location,
		})
	}
	return places, nil
}

// get performs one API request and decodes the body into out. The status
// pointer must point at out's Status field so get can translate API-level
// errors into *APIError values after decoding.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, status *string, out any) error {
	q.Set("key", c.apiKey)
	reqURL := c.baseURL + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building maps request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling maps api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading maps response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{HTTPStatus: resp.StatusCode, Endpoint: endpoint}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding maps response: %w", err)
	}

	switch *status {
	case statusOK, statusZeroResults:
		return nil
	default:
		c.log.Debug("maps api returned non-ok status", "endpoint", endpoint, "status", *status)
		return &APIError{HTTPStatus: resp.StatusCode, Status: *status, Endpoint: endpoint}
	}
}

func formatLatLng(p geo.LatLng) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
