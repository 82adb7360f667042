// Package discovery classifies advertising peripherals into known thermometer
// models and tracks sightings during a scan.
package discovery

import (
	"sort"
	"strings"

	"github.com/srg/igrill/internal/igrill"
)

type prefix struct {
	tag   string
	model igrill.Model
}

// prefixes holds every model tag and alias, longest first, so that
// "igrill_mini_2..." never matches igrill_mini.
var prefixes = buildPrefixes()

func buildPrefixes() []prefix {
	var out []prefix
	for _, m := range igrill.Models() {
		for _, tag := range igrill.Tags(m) {
			out = append(out, prefix{tag: strings.ToLower(tag), model: m})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].tag) != len(out[j].tag) {
			return len(out[i].tag) > len(out[j].tag)
		}
		return out[i].tag < out[j].tag
	})
	return out
}

// Classify returns the profile whose tag is the longest case-insensitive
// prefix of an advertised name.
func Classify(name string) (igrill.Profile, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return igrill.Profile{}, false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(n, p.tag) {
			profile, err := igrill.ProfileFor(string(p.model))
			if err != nil {
				return igrill.Profile{}, false
			}
			return profile, true
		}
	}
	return igrill.Profile{}, false
}
