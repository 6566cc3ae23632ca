package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var errInvalidProfile = errors.New("invalid analysis profile")

// Profile is the analysis profile: the contract the Narrator and Visualizer
// outputs are validated against. The heading set is configuration, not a
// hard-coded constant.
type Profile struct {
	RequiredHeadings []string `yaml:"required_headings"`
	ChartCountMin    int      `yaml:"chart_count_min"`
	ChartCountMax    int      `yaml:"chart_count_max"`
	JudgeThreshold   float64  `yaml:"judge_threshold"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("op=config.LoadProfile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("op=config.LoadProfile: %w", err)
	}
	if p.ChartCountMin < 0 || p.ChartCountMax < 0 ||
		(p.ChartCountMax > 0 && p.ChartCountMin > p.ChartCountMax) {
		return Profile{}, fmt.Errorf("op=config.LoadProfile: %w: chart count bounds", errInvalidProfile)
	}
	return p, nil
}
