package tmdb

import (
	"sort"
	"strings"
)

// Genres maps the genre names users tend to say to TMDB genre IDs. Several
// colloquial names share an ID.
var Genres = map[string]int{
	"action":    28,
	"adventure": 12,
	"thriller":  53,

	"comedy": 35,
	"funny":  35,
	"drama":  18,

	"horror":  27,
	"scary":   27,
	"mystery": 9648,

	"romance":  10749,
	"romantic": 10749,
	"family":   10751,

	"science fiction": 878,
	"sci-fi":          878,
	"fantasy":         14,

	"documentary": 99,
	"animation":   16,
	"crime":       80,
	"war":         10752,
	"western":     37,
}

// LookupGenre resolves a genre name to its TMDB ID, ignoring case and
// surrounding space. "scifi" and "sci fi" resolve like "sci-fi".
func LookupGenre(name string) (int, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if id, ok := Genres[key]; ok {
		return id, true
	}
	switch key {
	case "scifi", "sci fi":
		return Genres["sci-fi"], true
	}
	return 0, false
}

// GenreNames returns every known genre name, sorted.
func GenreNames() []string {
	names := make([]string, 0, len(Genres))
	for name := range Genres {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
