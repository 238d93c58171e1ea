package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the configuration surface for severity derivation and duplicate
// collapse. Kept out of code so product can tune it without a release.
type Policy struct {
	// CriticalKeywords escalate an issue to critical when its description
	// contains any of them (case-insensitive).
	CriticalKeywords []string `yaml:"critical_keywords"`

	// DuplicatePrefixLen is how many description characters participate in
	// the duplicate-collapse key.
	DuplicatePrefixLen int `yaml:"duplicate_prefix_len"`
}

// DefaultPolicy returns the built-in severity policy.
func DefaultPolicy() Policy {
	return Policy{
		CriticalKeywords: []string{
			"injection",
			"remote code execution",
			"hardcoded credential",
			"hardcoded password",
			"data loss",
		},
		DuplicatePrefixLen: 80,
	}
}

// LoadPolicy reads a YAML policy file, filling unset fields from the default.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if p.DuplicatePrefixLen <= 0 {
		p.DuplicatePrefixLen = DefaultPolicy().DuplicatePrefixLen
	}
	return p, nil
}
