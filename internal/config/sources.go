package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Source is a named group of feed endpoints sharing one generation category.
type Source struct {
	Key      string   `yaml:"-"`
	Category string   `yaml:"category"`
	URLs     []string `yaml:"urls"`
}

// Sources is the feed configuration. Order fixes the processing priority;
// map iteration order is never used.
type Sources struct {
	Order   []string          `yaml:"order"`
	Sources map[string]Source `yaml:"sources"`
}

// DefaultSources returns the built-in feed configuration.
func DefaultSources() *Sources {
	return &Sources{
		Order: []string{
			"screenrant_filmes_tv",
			"movieweb",
			"collider_filmes_tv",
			"cbr_cultura_pop",
			"games",
		},
		Sources: map[string]Source{
			"screenrant_filmes_tv": {
				Category: "movies",
				URLs: []string{
					"https://screenrant.com/feed/movie-news/",
					"https://screenrant.com/feed/tv-news/",
				},
			},
			"movieweb": {
				Category: "movies",
				URLs:     []string{"https://movieweb.com/feed/"},
			},
			"collider_filmes_tv": {
				Category: "movies",
				URLs: []string{
					"https://collider.com/feed/category/movie-news/",
					"https://collider.com/feed/category/tv-news/",
				},
			},
			"cbr_cultura_pop": {
				Category: "movies",
				URLs: []string{
					"https://www.cbr.com/feed/category/movies/news-movies/",
					"https://www.cbr.com/feed/category/tv/news-tv/",
				},
			},
			"games": {
				Category: "games",
				URLs: []string{
					"https://gamerant.com/feed/gaming/",
					"https://www.thegamer.com/feed/category/game-news/",
				},
			},
		},
	}
}

// LoadSources reads feed sources from a YAML file. An empty path yields the defaults.
func LoadSources(path string) (*Sources, error) {
	if path == "" {
		return DefaultSources(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed sources: %w", err)
	}

	return ParseSources(data)
}

// ParseSources decodes a YAML feed configuration.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse feed sources: %w", err)
	}
	if len(s.Order) == 0 {
		return nil, fmt.Errorf("feed sources: order list is empty")
	}
	return &s, nil
}

// Ordered resolves the priority list into sources. Order entries without a
// definition, definitions missing from the order, and sources without
// endpoints or category are logged and left out.
func (s *Sources) Ordered() []Source {
	out := make([]Source, 0, len(s.Order))
	listed := make(map[string]bool, len(s.Order))

	for _, key := range s.Order {
		if listed[key] {
			log.Warn().Str("source", key).Msg("Duplicate entry in feed order, ignoring")
			continue
		}
		listed[key] = true

		src, ok := s.Sources[key]
		if !ok {
			log.Warn().Str("source", key).Msg("Feed order names an undefined source, skipping")
			continue
		}
		if len(src.URLs) == 0 || strings.TrimSpace(src.Category) == "" {
			log.Warn().Str("source", key).Msg("Feed source has no endpoints or category, skipping")
			continue
		}
		src.Key = key
		out = append(out, src)
	}

	for key := range s.Sources {
		if !listed[key] {
			log.Warn().Str("source", key).Msg("Feed source is not in the order list and will not be processed")
		}
	}

	return out
}

// Categories returns the distinct generation categories in priority order.
func (s *Sources) Categories() []string {
	var cats []string
	seen := make(map[string]bool)
	for _, src := range s.Ordered() {
		if !seen[src.Category] {
			seen[src.Category] = true
			cats = append(cats, src.Category)
		}
	}
	return cats
}
