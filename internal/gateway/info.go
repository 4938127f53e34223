package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
)

type healthEnvironment struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Environment    string `json:"environment"`
	Debug          bool   `json:"debug"`
	LogLevel       string `json:"log_level"`
	ActiveSessions *int   `json:"active_sessions,omitempty"`
	TotalMessages  *int   `json:"total_messages,omitempty"`
}

type healthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Version     string            `json:"version"`
	Environment healthEnvironment `json:"environment"`
}

func (s *Server) healthBase() healthResponse {
	return healthResponse{
		Status:    "healthy",
		Timestamp: formatTime(s.now()),
		Version:   Version,
		Environment: healthEnvironment{
			Host:        s.config.Server.Host,
			Port:        s.config.Server.Port,
			Environment: s.config.Server.Environment,
			Debug:       s.config.Server.Debug,
			LogLevel:    s.config.Logging.Level,
		},
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthBase())
}

// handleHealth adds session statistics to the root health payload.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.healthBase()
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, "session stats", err)
		return
	}
	resp.Environment.ActiveSessions = &stats.Sessions
	resp.Environment.TotalMessages = &stats.Messages
	if s.metrics != nil {
		s.metrics.SetActiveSessions(stats.Sessions)
	}
	writeJSON(w, http.StatusOK, resp)
}

// routeDescriptions label the rate-limit table.
var routeDescriptions = map[string]string{
	"health":           "Health check endpoints",
	"chat":             "Chat with the movie assistant",
	"sessions_list":    "List all sessions",
	"session_messages": "Get session messages",
	"session_delete":   "Delete a session",
	"sessions_clear":   "Clear all sessions",
	"session_reset":    "Reset session history",
	"search":           "Search movies",
	"movie_lists":      "Popular, top rated, now playing and upcoming lists",
	"movie_details":    "Movie details",
	"watch_providers":  "Watch providers",
	"recommendations":  "Movie recommendations",
	"trending":         "Trending movies",
	"discover":         "Discover movies",
	"config":           "Configuration info",
	"rate_limits":      "Rate limit info",
	"capabilities":     "Capability listing",
}

// rateLimitTable renders each route as "N/minute - description".
func (s *Server) rateLimitTable() map[string]string {
	table := make(map[string]string, len(s.config.RateLimits.Routes))
	for route, policy := range s.config.RateLimits.Routes {
		entry := policy.String()
		if !s.config.RateLimits.IsEnabled() || !policy.Enabled() {
			entry = "unlimited"
		}
		if desc := routeDescriptions[route]; desc != "" {
			entry += " - " + desc
		}
		table[route] = entry
	}
	return table
}

type serverConfigView struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Environment    string   `json:"environment"`
	Debug          bool     `json:"debug"`
	LogLevel       string   `json:"log_level"`
	Workers        int      `json:"workers"`
	AllowedOrigins []string `json:"allowed_origins"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	loop := s.loop.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"server_config": serverConfigView{
			Host:           s.config.Server.Host,
			Port:           s.config.Server.Port,
			Environment:    s.config.Server.Environment,
			Debug:          s.config.Server.Debug,
			LogLevel:       s.config.Logging.Level,
			Workers:        s.pool.Size(),
			AllowedOrigins: s.config.Server.AllowedOrigins,
		},
		"agent_config": map[string]any{
			"max_iterations": loop.MaxIterations,
			"model":          loop.Model,
			"capabilities":   s.registry.Names(),
		},
		"rate_limits": s.rateLimitTable(),
		"note":        "Rate limits are per IP address per minute",
	})
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rate_limits": s.rateLimitTable(),
		"note":        "Rate limits are per IP address per minute",
	})
}

type capabilityView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	tools := s.registry.List()
	out := make([]capabilityView, 0, len(tools))
	for _, tool := range tools {
		out = append(out, capabilityView{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": out,
		"count":        len(out),
	})
}
