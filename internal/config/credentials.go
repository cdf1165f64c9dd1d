package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadCredentials collects API keys per category from GEMINI_<CATEGORY>_<N>
// variables. Empty values are dropped and order follows N.
func LoadCredentials(categories []string, lookup LookupFunc) map[string][]string {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	creds := make(map[string][]string, len(categories))
	for _, cat := range categories {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" {
			continue
		}
		if _, done := creds[cat]; done {
			continue
		}

		var keys []string
		for n := 1; n <= MaxCredentialsPerCategory; n++ {
			name := fmt.Sprintf("%s%s_%d", CredentialEnvPrefix, strings.ToUpper(cat), n)
			if v, ok := lookup(name); ok {
				if v = strings.TrimSpace(v); v != "" {
					keys = append(keys, v)
				}
			}
		}

		if len(keys) == 0 {
			log.Warn().Str("category", cat).Msg("No generation credentials configured, requests for this category will fail")
		}
		creds[cat] = keys
	}

	return creds
}
