package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/config"
	"github.com/haasonsaas/cinebot/internal/observability"
	"github.com/haasonsaas/cinebot/internal/tools/tmdb"
)

// movieListPaths maps /movies/<path> to get_movie_lists list types.
var movieListPaths = map[string]string{
	"popular":     "popular",
	"top-rated":   "top_rated",
	"now-playing": "now_playing",
	"upcoming":    "upcoming",
}

// movieViews maps /movies/{id}/<view> to the capability and rate-limit route.
var movieViews = map[string]struct {
	tool  string
	route string
}{
	"details":         {tool: tmdb.ToolMovieDetails, route: config.RouteMovieDetails},
	"watch-providers": {tool: tmdb.ToolWatchProviders, route: config.RouteWatchProviders},
	"recommendations": {tool: tmdb.ToolRecommendations, route: config.RouteRecommendations},
}

// badRequest is an argument problem found before the registry is called.
type badRequest string

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{"query": r.PathValue("query")}
	if err := addPage(r, args); err != "" {
		writeError(w, http.StatusBadRequest, string(err), s.now())
		return
	}
	s.execute(w, r, tmdb.ToolSearchMovies, args)
}

func (s *Server) handleMovieList(listType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := map[string]any{"list_type": listType}
		if err := addPage(r, args); err != "" {
			writeError(w, http.StatusBadRequest, string(err), s.now())
			return
		}
		s.execute(w, r, tmdb.ToolMovieLists, args)
	}
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{"time_window": r.PathValue("time_window")}
	if err := addPage(r, args); err != "" {
		writeError(w, http.StatusBadRequest, string(err), s.now())
		return
	}
	s.execute(w, r, tmdb.ToolTrendingMovies, args)
}

// handleDiscover accepts genre_id or a genre name in genre.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	args := map[string]any{}
	if err := addPage(r, args); err != "" {
		writeError(w, http.StatusBadRequest, string(err), s.now())
		return
	}
	if raw := query.Get("genre_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "genre_id must be an integer", s.now())
			return
		}
		args["genre_id"] = id
	} else if name := query.Get("genre"); name != "" {
		id, ok := tmdb.LookupGenre(name)
		if !ok {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unknown genre %q; known genres: %s", name, strings.Join(tmdb.GenreNames(), ", ")), s.now())
			return
		}
		args["genre_id"] = id
	}
	if sortBy := query.Get("sort_by"); sortBy != "" {
		args["sort_by"] = sortBy
	}
	s.execute(w, r, tmdb.ToolDiscoverMovies, args)
}

// handleMovieView serves /movies/{movie_id}/details, /watch-providers and
// /recommendations.
func (s *Server) handleMovieView(w http.ResponseWriter, r *http.Request) {
	view, ok := movieViews[r.PathValue("view")]
	if !ok {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), s.now())
		return
	}
	if !s.allow(w, r, view.route) {
		return
	}

	movieID, err := strconv.ParseInt(r.PathValue("movie_id"), 10, 64)
	if err != nil || movieID < 1 {
		writeError(w, http.StatusBadRequest, "movie_id must be a positive integer", s.now())
		return
	}
	args := map[string]any{"movie_id": movieID}
	query := r.URL.Query()

	switch view.tool {
	case tmdb.ToolMovieDetails:
		if raw := query.Get("append_credits"); raw != "" {
			credits, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "append_credits must be a boolean", s.now())
				return
			}
			args["append_credits"] = credits
		}
	case tmdb.ToolWatchProviders:
		if region := query.Get("region"); region != "" {
			args["region"] = strings.ToUpper(strings.TrimSpace(region))
		}
	case tmdb.ToolRecommendations:
		if err := addPage(r, args); err != "" {
			writeError(w, http.StatusBadRequest, string(err), s.now())
			return
		}
	}
	s.execute(w, r, view.tool, args)
}

func addPage(r *http.Request, args map[string]any) badRequest {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return ""
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return "page must be an integer"
	}
	args["page"] = page
	return ""
}

// execute runs a capability through the same registry the conversation loop
// uses and writes its JSON result.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, tool string, args map[string]any) {
	params, err := json.Marshal(args)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid arguments", s.now())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.loop.Config().ToolTimeout)
	defer cancel()
	ctx, span := s.tracer.TraceToolExecution(ctx, tool)
	defer span.End()

	start := time.Now()
	result, err := s.registry.Execute(ctx, tool, params)
	if err == nil && result.IsError {
		err = errors.New(result.Content)
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordToolExecution(tool, status, time.Since(start).Seconds())

	if err != nil {
		s.tracer.RecordError(span, err)
		var validationErr *agent.ValidationError
		if errors.As(err, &validationErr) {
			message := validationErr.Reason
			if message == "" {
				message = err.Error()
			}
			writeError(w, http.StatusBadRequest, message, s.now())
			return
		}
		errorType := string(agent.ToolErrorExecution)
		var execErr *agent.CapabilityExecutionError
		if errors.As(err, &execErr) {
			errorType = string(execErr.Type)
		}
		s.metrics.RecordError("tool", errorType)
		observability.LoggerFrom(ctx, s.logger).Warn("capability failed", "tool", tool, "type", errorType, "error", err)
		writeError(w, http.StatusBadGateway, "Upstream movie service error: "+errorType, s.now())
		return
	}
	writeRawJSON(w, http.StatusOK, []byte(result.Content))
}
