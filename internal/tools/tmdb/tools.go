package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/cinebot/internal/agent"
)

// Capability names as advertised to the model.
const (
	ToolSearchMovies    = "search_movies"
	ToolMovieDetails    = "get_movie_details"
	ToolDiscoverMovies  = "discover_movies"
	ToolMovieLists      = "get_movie_lists"
	ToolTrendingMovies  = "get_trending_movies"
	ToolRecommendations = "get_movie_recommendations"
	ToolWatchProviders  = "get_watch_providers"
)

const (
	searchLimit         = 5
	searchOverviewLimit = 200
	listOverviewLimit   = 150
	castLimit           = 10
)

// Tools returns every TMDB capability backed by client.
func Tools(client *Client) []agent.Tool {
	return []agent.Tool{
		NewSearchMoviesTool(client),
		NewMovieDetailsTool(client),
		NewDiscoverMoviesTool(client),
		NewMovieListsTool(client),
		NewTrendingMoviesTool(client),
		NewRecommendationsTool(client),
		NewWatchProvidersTool(client),
	}
}

// reflectSchema derives a tool's argument schema from its argument struct.
// Fields are required only when tagged so; unknown arguments are rejected.
func reflectSchema(args any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(args)
	schema.Version = ""
	schema.ID = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tmdb: reflect schema: %v", err))
	}
	return data
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"required,minLength=1" jsonschema_description:"Movie title or name to search for (e.g. Interstellar)"`
	Page  int    `json:"page,omitempty" jsonschema:"minimum=1,maximum=500,default=1" jsonschema_description:"Results page"`
}

type detailsArgs struct {
	MovieID       int64 `json:"movie_id" jsonschema:"required,minimum=1" jsonschema_description:"TMDB movie ID"`
	AppendCredits bool  `json:"append_credits,omitempty" jsonschema:"default=true" jsonschema_description:"Include top cast and the director"`
}

type discoverArgs struct {
	GenreID int    `json:"genre_id,omitempty" jsonschema:"minimum=1" jsonschema_description:"TMDB genre ID (e.g. 28 for action)"`
	SortBy  string `json:"sort_by,omitempty" jsonschema:"enum=popularity.desc,enum=popularity.asc,enum=vote_average.desc,enum=vote_average.asc,enum=release_date.desc,enum=release_date.asc,enum=primary_release_date.desc,enum=revenue.desc,enum=vote_count.desc,default=popularity.desc" jsonschema_description:"Sort order"`
	Page    int    `json:"page,omitempty" jsonschema:"minimum=1,maximum=500,default=1" jsonschema_description:"Results page"`
}

type listArgs struct {
	ListType string `json:"list_type,omitempty" jsonschema:"enum=popular,enum=top_rated,enum=now_playing,enum=upcoming,default=popular" jsonschema_description:"Which curated list to fetch"`
	Page     int    `json:"page,omitempty" jsonschema:"minimum=1,maximum=500,default=1" jsonschema_description:"Results page"`
}

type trendingArgs struct {
	TimeWindow string `json:"time_window,omitempty" jsonschema:"enum=day,enum=week,default=day" jsonschema_description:"Trending over the last day or week"`
	Page       int    `json:"page,omitempty" jsonschema:"minimum=1,maximum=500,default=1" jsonschema_description:"Results page"`
}

type recommendationsArgs struct {
	MovieID int64 `json:"movie_id" jsonschema:"required,minimum=1" jsonschema_description:"TMDB movie ID to find similar movies for"`
	Page    int   `json:"page,omitempty" jsonschema:"minimum=1,maximum=500,default=1" jsonschema_description:"Results page"`
}

type watchProvidersArgs struct {
	MovieID int64  `json:"movie_id" jsonschema:"required,minimum=1" jsonschema_description:"TMDB movie ID"`
	Region  string `json:"region,omitempty" jsonschema:"pattern=^[A-Z]{2}$,default=US" jsonschema_description:"ISO 3166-1 country code (e.g. US or GB)"`
}

var (
	searchSchema          = reflectSchema(&searchArgs{})
	detailsSchema         = reflectSchema(&detailsArgs{})
	discoverSchema        = reflectSchema(&discoverArgs{})
	listSchema            = reflectSchema(&listArgs{})
	trendingSchema        = reflectSchema(&trendingArgs{})
	recommendationsSchema = reflectSchema(&recommendationsArgs{})
	watchProvidersSchema  = reflectSchema(&watchProvidersArgs{})
)

// movieSummary is the trimmed movie shape returned to the model.
type movieSummary struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	Overview    string  `json:"overview"`
}

func summarize(movies []Movie, overviewLimit int) []movieSummary {
	n := min(len(movies), searchLimit)
	out := make([]movieSummary, 0, n)
	for _, m := range movies[:n] {
		out = append(out, movieSummary{
			ID:          m.ID,
			Title:       m.Title,
			ReleaseDate: m.ReleaseDate,
			VoteAverage: m.VoteAverage,
			Overview:    truncate(m.Overview, overviewLimit),
		})
	}
	return out
}

// truncate cuts s to limit characters and marks the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func jsonResult(v any) (*agent.ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tmdb: encode result: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

func decodeArgs(params json.RawMessage, args any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, args); err != nil {
		return fmt.Errorf("tmdb: decode arguments: %w", err)
	}
	return nil
}

// SearchMoviesTool finds movies by title.
type SearchMoviesTool struct {
	client *Client
}

func NewSearchMoviesTool(client *Client) *SearchMoviesTool {
	return &SearchMoviesTool{client: client}
}

func (t *SearchMoviesTool) Name() string { return ToolSearchMovies }

func (t *SearchMoviesTool) Description() string {
	return "Search for movies by title or name. Returns up to 5 matches with their TMDB IDs; use it to resolve a title before other lookups."
}

func (t *SearchMoviesTool) Schema() json.RawMessage { return searchSchema }

func (t *SearchMoviesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := searchArgs{Page: 1}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	page, err := t.client.SearchMovies(ctx, args.Query, args.Page)
	if err != nil {
		return nil, err
	}
	return jsonResult(struct {
		Results      []movieSummary `json:"results"`
		TotalResults int            `json:"total_results"`
	}{
		Results:      summarize(page.Results, searchOverviewLimit),
		TotalResults: min(page.TotalResults, searchLimit),
	})
}

// MovieDetailsTool fetches full details for one movie.
type MovieDetailsTool struct {
	client *Client
}

func NewMovieDetailsTool(client *Client) *MovieDetailsTool {
	return &MovieDetailsTool{client: client}
}

func (t *MovieDetailsTool) Name() string { return ToolMovieDetails }

func (t *MovieDetailsTool) Description() string {
	return "Get detailed information about a movie by TMDB ID: runtime, ratings, budget, revenue, genres, top cast and director."
}

func (t *MovieDetailsTool) Schema() json.RawMessage { return detailsSchema }

type detailsResult struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	ReleaseDate string   `json:"release_date"`
	Runtime     int      `json:"runtime"`
	VoteAverage float64  `json:"vote_average"`
	VoteCount   int      `json:"vote_count"`
	Budget      int64    `json:"budget"`
	Revenue     int64    `json:"revenue"`
	Genres      []string `json:"genres"`
}

type detailsWithCredits struct {
	detailsResult
	Cast     []CastMember `json:"cast"`
	Director *string      `json:"director"`
}

func (t *MovieDetailsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := detailsArgs{AppendCredits: true}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	details, err := t.client.MovieDetails(ctx, args.MovieID, args.AppendCredits)
	if err != nil {
		return nil, err
	}

	result := detailsResult{
		ID:          details.ID,
		Title:       details.Title,
		Overview:    details.Overview,
		ReleaseDate: details.ReleaseDate,
		Runtime:     details.Runtime,
		VoteAverage: details.VoteAverage,
		VoteCount:   details.VoteCount,
		Budget:      details.Budget,
		Revenue:     details.Revenue,
		Genres:      make([]string, 0, len(details.Genres)),
	}
	for _, g := range details.Genres {
		result.Genres = append(result.Genres, g.Name)
	}
	if details.Credits == nil {
		return jsonResult(result)
	}

	withCredits := detailsWithCredits{
		detailsResult: result,
		Cast:          make([]CastMember, 0, castLimit),
	}
	cast := details.Credits.Cast
	withCredits.Cast = append(withCredits.Cast, cast[:min(len(cast), castLimit)]...)
	for _, member := range details.Credits.Crew {
		if member.Job == "Director" {
			name := member.Name
			withCredits.Director = &name
			break
		}
	}
	return jsonResult(withCredits)
}

// DiscoverMoviesTool browses movies by genre and sort order.
type DiscoverMoviesTool struct {
	client *Client
}

func NewDiscoverMoviesTool(client *Client) *DiscoverMoviesTool {
	return &DiscoverMoviesTool{client: client}
}

func (t *DiscoverMoviesTool) Name() string { return ToolDiscoverMovies }

func (t *DiscoverMoviesTool) Description() string {
	return "Discover movies by genre and popularity or rating. Genre IDs: action 28, comedy 35, drama 18, horror 27, romance 10749, sci-fi 878."
}

func (t *DiscoverMoviesTool) Schema() json.RawMessage { return discoverSchema }

func (t *DiscoverMoviesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := discoverArgs{SortBy: "popularity.desc", Page: 1}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	page, err := t.client.Discover(ctx, DiscoverOptions{GenreID: args.GenreID, SortBy: args.SortBy, Page: args.Page})
	if err != nil {
		return nil, err
	}
	return jsonResult(struct {
		Results      []movieSummary `json:"results"`
		TotalResults int            `json:"total_results"`
		Page         int            `json:"page"`
	}{
		Results:      summarize(page.Results, listOverviewLimit),
		TotalResults: min(page.TotalResults, searchLimit),
		Page:         args.Page,
	})
}

// MovieListsTool fetches TMDB's curated lists.
type MovieListsTool struct {
	client *Client
}

func NewMovieListsTool(client *Client) *MovieListsTool {
	return &MovieListsTool{client: client}
}

func (t *MovieListsTool) Name() string { return ToolMovieLists }

func (t *MovieListsTool) Description() string {
	return "Get popular, top rated, now playing or upcoming movies."
}

func (t *MovieListsTool) Schema() json.RawMessage { return listSchema }

func (t *MovieListsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := listArgs{ListType: "popular", Page: 1}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	page, err := t.client.MovieList(ctx, args.ListType, args.Page)
	if err != nil {
		return nil, err
	}
	return jsonResult(struct {
		ListType     string         `json:"list_type"`
		Results      []movieSummary `json:"results"`
		TotalResults int            `json:"total_results"`
		Page         int            `json:"page"`
	}{
		ListType:     args.ListType,
		Results:      summarize(page.Results, listOverviewLimit),
		TotalResults: min(page.TotalResults, searchLimit),
		Page:         args.Page,
	})
}

// TrendingMoviesTool fetches movies trending over a day or week.
type TrendingMoviesTool struct {
	client *Client
}

func NewTrendingMoviesTool(client *Client) *TrendingMoviesTool {
	return &TrendingMoviesTool{client: client}
}

func (t *TrendingMoviesTool) Name() string { return ToolTrendingMovies }

func (t *TrendingMoviesTool) Description() string {
	return "Get movies trending today or this week."
}

func (t *TrendingMoviesTool) Schema() json.RawMessage { return trendingSchema }

func (t *TrendingMoviesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := trendingArgs{TimeWindow: "day", Page: 1}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	page, err := t.client.Trending(ctx, args.TimeWindow, args.Page)
	if err != nil {
		return nil, err
	}
	return jsonResult(struct {
		TimeWindow   string         `json:"time_window"`
		Results      []movieSummary `json:"results"`
		TotalResults int            `json:"total_results"`
		Page         int            `json:"page"`
	}{
		TimeWindow:   args.TimeWindow,
		Results:      summarize(page.Results, listOverviewLimit),
		TotalResults: min(page.TotalResults, searchLimit),
		Page:         args.Page,
	})
}

// RecommendationsTool finds movies similar to a given one.
type RecommendationsTool struct {
	client *Client
}

func NewRecommendationsTool(client *Client) *RecommendationsTool {
	return &RecommendationsTool{client: client}
}

func (t *RecommendationsTool) Name() string { return ToolRecommendations }

func (t *RecommendationsTool) Description() string {
	return "Get movies similar to a movie, by TMDB ID."
}

func (t *RecommendationsTool) Schema() json.RawMessage { return recommendationsSchema }

func (t *RecommendationsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := recommendationsArgs{Page: 1}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	page, err := t.client.Recommendations(ctx, args.MovieID, args.Page)
	if err != nil {
		return nil, err
	}
	return jsonResult(struct {
		MovieID      int64          `json:"movie_id"`
		Results      []movieSummary `json:"results"`
		TotalResults int            `json:"total_results"`
		Page         int            `json:"page"`
	}{
		MovieID:      args.MovieID,
		Results:      summarize(page.Results, listOverviewLimit),
		TotalResults: min(page.TotalResults, searchLimit),
		Page:         args.Page,
	})
}

// WatchProvidersTool reports where a movie can be streamed, rented or bought.
type WatchProvidersTool struct {
	client *Client
}

func NewWatchProvidersTool(client *Client) *WatchProvidersTool {
	return &WatchProvidersTool{client: client}
}

func (t *WatchProvidersTool) Name() string { return ToolWatchProviders }

func (t *WatchProvidersTool) Description() string {
	return "Find where to stream, rent or buy a movie in a region, by TMDB ID. Search for the movie first to get its ID."
}

func (t *WatchProvidersTool) Schema() json.RawMessage { return watchProvidersSchema }

type watchProvidersResult struct {
	MovieID   int64    `json:"movie_id"`
	Region    string   `json:"region"`
	Streaming []string `json:"streaming"`
	Rent      []string `json:"rent"`
	Buy       []string `json:"buy"`
	Link      string   `json:"link"`
	Message   string   `json:"message,omitempty"`
}

func (t *WatchProvidersTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := watchProvidersArgs{Region: "US"}
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	providers, err := t.client.WatchProviders(ctx, args.MovieID)
	if err != nil {
		return nil, err
	}

	result := watchProvidersResult{
		MovieID:   args.MovieID,
		Region:    args.Region,
		Streaming: []string{},
		Rent:      []string{},
		Buy:       []string{},
	}
	region, ok := providers.Results[args.Region]
	if !ok {
		result.Message = "No streaming information available for this movie in " + args.Region
		return jsonResult(result)
	}
	result.Link = region.Link
	result.Streaming = providerNames(region.Flatrate)
	result.Rent = providerNames(region.Rent)
	result.Buy = providerNames(region.Buy)
	return jsonResult(result)
}

func providerNames(providers []WatchProvider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.ProviderName)
	}
	return names
}
