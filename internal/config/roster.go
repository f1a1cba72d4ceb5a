package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/facecam/internal/types"
)

// RosterEntry lists the reference images of a single identity.
type RosterEntry struct {
	Label  string   `yaml:"label"`
	Images []string `yaml:"images"`
}

// Roster is the ordered set of identities to enroll.
type Roster struct {
	Identities []RosterEntry `yaml:"identities"`
}

// ImagePath expands the {label} and {index} placeholders of a reference image pattern.
func ImagePath(pattern, label string, index int) string {
	return strings.NewReplacer("{label}", label, "{index}", strconv.Itoa(index)).Replace(pattern)
}

// ValidLabel rejects blank labels and the label reserved for unmatched faces.
func ValidLabel(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("label must not be empty")
	}
	if label == types.UnknownLabel {
		return fmt.Errorf("%q is reserved for unmatched faces", types.UnknownLabel)
	}
	return nil
}

// ValidateLabels checks every label and requires each identity to appear once.
func ValidateLabels(labels []string) error {
	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		if err := ValidLabel(label); err != nil {
			return err
		}
		if seen[label] {
			return fmt.Errorf("duplicate roster label %q", label)
		}
		seen[label] = true
	}
	return nil
}

// PatternRoster builds a roster with count images per label, numbered from 1.
func PatternRoster(labels []string, count int, pattern string) *Roster {
	r := &Roster{Identities: make([]RosterEntry, 0, len(labels))}
	for _, label := range labels {
		entry := RosterEntry{Label: label}
		for i := 1; i <= count; i++ {
			entry.Images = append(entry.Images, ImagePath(pattern, label, i))
		}
		r.Identities = append(r.Identities, entry)
	}
	return r
}

// ParseRoster decodes a YAML roster manifest.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := ValidateLabels(r.Labels()); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadRoster reads a YAML roster manifest from disk.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoster(data)
}

// Roster returns the manifest roster when one is configured, otherwise the pattern roster.
func (c *EnrollConfig) Roster() (*Roster, error) {
	if c.Manifest != "" {
		return LoadRoster(c.Manifest)
	}
	if err := ValidateLabels(c.Labels); err != nil {
		return nil, err
	}
	return PatternRoster(c.Labels, c.ImagesPerLabel, c.Pattern), nil
}

// Labels returns the identity labels in roster order.
func (r *Roster) Labels() []string {
	labels := make([]string, len(r.Identities))
	for i, id := range r.Identities {
		labels[i] = id.Label
	}
	return labels
}

// Count returns the total number of reference images in the roster.
func (r *Roster) Count() int {
	n := 0
	for _, id := range r.Identities {
		n += len(id.Images)
	}
	return n
}
