package tmdb

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/cinebot/internal/agent"
)

var promptGenres = []string{"Action(28)", "Comedy(35)", "Drama(18)", "Horror(27)", "Romance(10749)", "Sci-Fi(878)"}

// SystemPrompt renders the assistant's behavioral prompt, advertising tools in
// the order given.
func SystemPrompt(tools []agent.Tool) string {
	lines := make([]string, 0, 5)
	lines = append(lines, "You are a Movie Assistant AI with access to TMDB movie database tools.")

	if len(tools) > 0 {
		toolLines := make([]string, 0, len(tools))
		for _, tool := range tools {
			toolLines = append(toolLines, fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
		}
		lines = append(lines, "Available tools:\n"+strings.Join(toolLines, "\n"))
	}

	lines = append(lines, "Genres: "+strings.Join(promptGenres, ", ")+", etc.")

	lines = append(lines, strings.Join([]string{
		"Guidelines:",
		"- Use multiple tools for complete answers",
		"- Be conversational and engaging",
		"- Provide cast, ratings, and plot when relevant",
		"- Offer recommendations when appropriate",
		"- Format responses clearly with key details",
		"- For \"where to watch\" questions: search_movies, then get_watch_providers",
	}, "\n"))

	lines = append(lines, "Example: for \"Where can I watch Inception?\" call search_movies, then get_watch_providers with the movie ID.")

	return strings.Join(lines, "\n\n")
}
