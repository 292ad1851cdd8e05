// Package replace applies role-keyed regex replacement rules to prompt
// messages and completions, with named-capture forwarding between rules.
package replace

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Item is one replacement rule. A rule with no Replace captures named
// groups for later rules to reference instead of rewriting text.
type Item struct {
	Name    string   `koanf:"name"`
	Role    string   `koanf:"role"`
	Trigger string   `koanf:"trigger"`
	Pattern string   `koanf:"pattern"`
	Replace *string  `koanf:"replace"`
	Ref     []string `koanf:"ref"`
}

// Settings is the replacement rule set.
type Settings struct {
	AdditionalReplacement []Item `koanf:"additional_replacement"`
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Settings{}
)

// LoadSettings reads the rule set at path, yaml first with a legacy JSON
// fallback ({"additional_replacement": {role: {search: replace}}}). Results
// are cached per path for the process lifetime; a missing or malformed file
// yields an empty rule set.
func LoadSettings(path string) *Settings {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if s, ok := cache[path]; ok {
		return s
	}
	s := loadSettings(path)
	cache[path] = s
	return s
}

func loadSettings(path string) *Settings {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err == nil {
		var s Settings
		if err := k.Unmarshal("", &s); err == nil && len(s.AdditionalReplacement) > 0 {
			return &s
		}
	}

	raw, err := os.ReadFile("setting.json")
	if err != nil {
		return &Settings{}
	}
	var legacy struct {
		AdditionalReplacement map[string]map[string]string `json:"additional_replacement"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return &Settings{}
	}
	s := &Settings{}
	for role, rules := range legacy.AdditionalReplacement {
		for search, repl := range rules {
			r := repl
			s.AdditionalReplacement = append(s.AdditionalReplacement, Item{
				Role:    role,
				Pattern: search,
				Replace: &r,
			})
		}
	}
	return s
}
