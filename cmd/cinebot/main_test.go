package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "chat", "ask", "capabilities", "config-schema"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigSchemaPrintsJSON(t *testing.T) {
	out, err := execute(t, "", "config-schema")
	if err != nil {
		t.Fatalf("config-schema: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"server", "llm", "tmdb", "agent", "session"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema missing %q: %v", key, props)
		}
	}
}

func TestCapabilitiesListsTools(t *testing.T) {
	out, err := execute(t, "", "capabilities")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	for _, name := range []string{"search_movies", "get_movie_details", "discover_movies", "get_watch_providers"} {
		if !strings.Contains(out, name) {
			t.Fatalf("capabilities output missing %s:\n%s", name, out)
		}
	}
}

// fakeBackends serves a Groq-compatible stream that first searches TMDB and
// then answers, plus a TMDB search endpoint. It returns a config file path.
func fakeBackends(t *testing.T) string {
	t.Helper()
	tmdbServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/movie" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"page":1,"total_pages":1,"total_results":1,"results":[{"id":27205,"title":"Inception","release_date":"2010-07-15","vote_average":8.4,"overview":"A thief who steals secrets."}]}`)
	}))
	t.Cleanup(tmdbServer.Close)

	groqServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawTool := false
		for _, msg := range body.Messages {
			if msg.Role == "tool" && strings.Contains(msg.Content, "Inception") {
				sawTool = true
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		if sawTool {
			fmt.Fprint(w, `data: {"id":"2","choices":[{"index":0,"delta":{"role":"assistant","content":"Inception (2010) is a great pick."},"finish_reason":"stop"}]}`+"\n\n")
		} else {
			fmt.Fprint(w, `data: {"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search_movies","arguments":"{\"query\":\"Inception\"}"}}]},"finish_reason":"tool_calls"}]}`+"\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(groqServer.Close)

	for _, key := range []string{"GROQ_API_KEY", "groq_api_key", "ANTHROPIC_API_KEY", "anthropic_api_key", "TMDB_API_KEY", "tmdb_api_key", "CINEBOT_CONFIG"} {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "cinebot.yaml")
	data := fmt.Sprintf(`llm:
  default_provider: groq
  providers:
    groq:
      api_key: gsk_test
      base_url: %s
tmdb:
  api_key: tmdb_test
  base_url: %s
`, groqServer.URL, tmdbServer.URL)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAskRunsToolRoundTrip(t *testing.T) {
	path := fakeBackends(t)
	missingEnv := filepath.Join(t.TempDir(), "missing.env")

	out, err := execute(t, "", "--config", path, "--env-file", missingEnv, "ask", "Tell me about Inception")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.TrimSpace(out) != "Inception (2010) is a great pick." {
		t.Fatalf("unexpected answer: %q", out)
	}
}

func TestChatReadsUntilQuit(t *testing.T) {
	path := fakeBackends(t)
	missingEnv := filepath.Join(t.TempDir(), "missing.env")

	out, err := execute(t, "Tell me about Inception\nreset\nquit\nignored\n",
		"--config", path, "--env-file", missingEnv, "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Inception (2010) is a great pick.") {
		t.Fatalf("missing answer in %q", out)
	}
	if !strings.Contains(out, "Conversation reset.") {
		t.Fatalf("missing reset confirmation in %q", out)
	}
	if strings.Contains(out, "> ") {
		t.Fatalf("prompt printed for non-terminal input: %q", out)
	}
}

func TestAskRequiresCredentials(t *testing.T) {
	for _, key := range []string{"GROQ_API_KEY", "groq_api_key", "TMDB_API_KEY", "tmdb_api_key", "CINEBOT_CONFIG"} {
		t.Setenv(key, "")
	}
	missingEnv := filepath.Join(t.TempDir(), "missing.env")
	if _, err := execute(t, "", "--env-file", missingEnv, "ask", "hi"); err == nil {
		t.Fatal("expected missing credentials to fail")
	}
}
