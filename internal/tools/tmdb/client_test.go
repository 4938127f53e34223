package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing key", cfg: Config{}},
		{name: "bad scheme", cfg: Config{APIKey: "k", BaseURL: "ftp://example.com"}},
		{name: "no host", cfg: Config{APIKey: "k", BaseURL: "/relative"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	client, err := NewClient(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.baseURL != DefaultBaseURL || client.language != DefaultLanguage {
		t.Fatalf("defaults not applied: %s %s", client.baseURL, client.language)
	}
}

func TestClient_BearerToken(t *testing.T) {
	var gotAuth, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.URL.Query().Get("api_key")
		_, _ = w.Write([]byte(`{"page":1,"results":[],"total_results":0}`))
	}))
	t.Cleanup(srv.Close)

	token := "eyJhbGciOiJIUzI1NiJ9.eyJhdWQiOiJ4In0.sig"
	client, err := NewClient(Config{APIKey: token, BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.MovieList(context.Background(), "popular", 1); err != nil {
		t.Fatalf("MovieList: %v", err)
	}
	if gotAuth != "Bearer "+token {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotKey != "" {
		t.Fatalf("api_key sent alongside bearer token: %q", gotKey)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status_code":7,"status_message":"Invalid API key"}`))
	}))
	t.Cleanup(srv.Close)

	client, _ := NewClient(Config{APIKey: "bad", BaseURL: srv.URL})
	_, err := client.SearchMovies(context.Background(), "Heat", 1)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != 7 || apiErr.Message != "Invalid API key" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestClient_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[` + strings.Repeat(`{"id":1},`, 100) + `{"id":1}]}`))
	}))
	t.Cleanup(srv.Close)

	client, _ := NewClient(Config{APIKey: "k", BaseURL: srv.URL, MaxResponseBytes: 64})
	if _, err := client.MovieList(context.Background(), "popular", 1); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestClient_TransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client, _ := NewClient(Config{APIKey: "supersecretkey123", BaseURL: baseURL})
	_, err := client.Trending(context.Background(), "day", 1)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "supersecretkey123") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestClient_SearchRequiresQuery(t *testing.T) {
	client, _ := NewClient(Config{APIKey: "k"})
	if _, err := client.SearchMovies(context.Background(), "  ", 1); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestLookupGenre(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"action", 28, true},
		{"  Horror ", 27, true},
		{"scary", 27, true},
		{"Science  Fiction", 878, true},
		{"sci-fi", 878, true},
		{"scifi", 878, true},
		{"romantic", 10749, true},
		{"western", 37, true},
		{"musical", 0, false},
	}
	for _, tt := range tests {
		got, ok := LookupGenre(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LookupGenre(%q) = %d, %v; want %d, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}

	names := GenreNames()
	if len(names) != len(Genres) || names[0] != "action" {
		t.Fatalf("GenreNames() = %v", names)
	}
}

func TestSystemPrompt(t *testing.T) {
	client, _ := NewClient(Config{APIKey: "k"})
	prompt := SystemPrompt(Tools(client))
	for _, want := range []string{"Movie Assistant", "- search_movies:", "- get_watch_providers:", "Romance(10749)", "search_movies, then get_watch_providers"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
