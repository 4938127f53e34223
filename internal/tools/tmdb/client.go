package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is TMDB's v3 REST endpoint.
	DefaultBaseURL = "https://api.themoviedb.org/3"

	// DefaultLanguage is sent with every request except trending.
	DefaultLanguage = "en-US"

	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(2 << 20) // 2MB
)

// Config configures the TMDB client.
type Config struct {
	// APIKey is a v3 API key or a v4 read access token.
	APIKey           string
	BaseURL          string
	Language         string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client wraps the read-only parts of the TMDB REST API the assistant uses.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	bearer   bool
	language string
	client   *http.Client
	maxBytes int64
}

// APIError is a non-2xx response from TMDB.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tmdb: status %d", e.StatusCode)
	}
	return fmt.Sprintf("tmdb: status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a TMDB client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("tmdb: api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("tmdb: invalid base_url %q", baseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("tmdb: base_url scheme must be http or https")
	}

	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = DefaultLanguage
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// v4 read access tokens are JWTs and go in the Authorization header.
		bearer:   strings.HasPrefix(apiKey, "eyJ"),
		language: language,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

// Movie is the summary TMDB returns in every movie list.
type Movie struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	Overview    string  `json:"overview"`
}

// MoviePage is one page of a movie list.
type MoviePage struct {
	Page         int     `json:"page"`
	Results      []Movie `json:"results"`
	TotalResults int     `json:"total_results"`
	TotalPages   int     `json:"total_pages"`
}

// Genre is a TMDB genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CastMember is one credited actor.
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
}

// CrewMember is one credited crew member.
type CrewMember struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

// Credits holds cast and crew as appended to a details response.
type Credits struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// MovieDetails is the full record for one movie.
type MovieDetails struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	ReleaseDate string   `json:"release_date"`
	Runtime     int      `json:"runtime"`
	VoteAverage float64  `json:"vote_average"`
	VoteCount   int      `json:"vote_count"`
	Budget      int64    `json:"budget"`
	Revenue     int64    `json:"revenue"`
	Genres      []Genre  `json:"genres"`
	Credits     *Credits `json:"credits,omitempty"`
}

// WatchProvider is a streaming, rental or purchase service.
type WatchProvider struct {
	ProviderID   int    `json:"provider_id"`
	ProviderName string `json:"provider_name"`
}

// RegionProviders lists the services offering a movie in one region.
type RegionProviders struct {
	Link     string          `json:"link"`
	Flatrate []WatchProvider `json:"flatrate"`
	Rent     []WatchProvider `json:"rent"`
	Buy      []WatchProvider `json:"buy"`
}

// WatchProviders maps region codes to their providers.
type WatchProviders struct {
	ID      int64                      `json:"id"`
	Results map[string]RegionProviders `json:"results"`
}

// DiscoverOptions filters the discover endpoint.
type DiscoverOptions struct {
	GenreID int
	SortBy  string
	Page    int
}

// SearchMovies searches movies by title (GET /search/movie).
func (c *Client) SearchMovies(ctx context.Context, query string, page int) (*MoviePage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("tmdb: query is required")
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))

	var out MoviePage
	if err := c.get(ctx, "/search/movie", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MovieDetails fetches one movie (GET /movie/{id}), optionally with credits.
func (c *Client) MovieDetails(ctx context.Context, movieID int64, withCredits bool) (*MovieDetails, error) {
	params := url.Values{}
	if withCredits {
		params.Set("append_to_response", "credits")
	}
	var out MovieDetails
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(movieID, 10), params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Discover lists movies matching opts (GET /discover/movie). Adult titles are
// always excluded.
func (c *Client) Discover(ctx context.Context, opts DiscoverOptions) (*MoviePage, error) {
	params := url.Values{}
	params.Set("sort_by", opts.SortBy)
	params.Set("page", strconv.Itoa(opts.Page))
	params.Set("include_adult", "false")
	if opts.GenreID > 0 {
		params.Set("with_genres", strconv.Itoa(opts.GenreID))
	}

	var out MoviePage
	if err := c.get(ctx, "/discover/movie", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MovieList fetches a curated list such as popular or upcoming
// (GET /movie/{list_type}).
func (c *Client) MovieList(ctx context.Context, listType string, page int) (*MoviePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	var out MoviePage
	if err := c.get(ctx, "/movie/"+url.PathEscape(listType), params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trending fetches trending movies (GET /trending/movie/{time_window}).
// TMDB ignores language here, so none is sent.
func (c *Client) Trending(ctx context.Context, timeWindow string, page int) (*MoviePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	var out MoviePage
	if err := c.get(ctx, "/trending/movie/"+url.PathEscape(timeWindow), params, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommendations fetches movies similar to movieID
// (GET /movie/{id}/recommendations).
func (c *Client) Recommendations(ctx context.Context, movieID int64, page int) (*MoviePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	var out MoviePage
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(movieID, 10)+"/recommendations", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchProviders fetches streaming availability for every region
// (GET /movie/{id}/watch/providers).
func (c *Client) WatchProviders(ctx context.Context, movieID int64) (*WatchProviders, error) {
	var out WatchProviders
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(movieID, 10)+"/watch/providers", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type apiErrorBody struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, withLanguage bool, out any) error {
	if c == nil || c.client == nil {
		return errors.New("tmdb: client not configured")
	}
	if params == nil {
		params = url.Values{}
	}
	if withLanguage {
		params.Set("language", c.language)
	}
	if !c.bearer {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("tmdb: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error repeats the request URL, which carries the api key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("tmdb: request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return fmt.Errorf("tmdb: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return fmt.Errorf("tmdb: response exceeds %d bytes", c.maxBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body apiErrorBody
		if json.Unmarshal(data, &body) == nil && body.StatusMessage != "" {
			apiErr.Code = body.StatusCode
			apiErr.Message = body.StatusMessage
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.StatusCode == http.StatusTooManyRequests && !strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
			apiErr.Message = strings.TrimSpace("rate limit exceeded " + apiErr.Message)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tmdb: decode %s: %w", path, err)
	}
	return nil
}
