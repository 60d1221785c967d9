package backlog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"copydesk/pkg/logx"
)

// File is the on-disk shape of a backlog file: a YAML document with a
// top-level stories list.
type File struct {
	Sprint  string  `yaml:"sprint,omitempty"`
	Stories []Story `yaml:"stories"`
}

// Load reads a backlog YAML file and returns its stories. Stories that fail
// structural validation are skipped with a warning so one malformed entry
// does not block the rest of the backlog.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog file: %w", err)
	}
	return Parse(data)
}

// Parse parses backlog YAML content.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse backlog YAML: %w", err)
	}

	logger := logx.NewLogger("backlog")
	valid := make([]Story, 0, len(file.Stories))
	for i := range file.Stories {
		story := file.Stories[i]
		if story.CreatedAt.IsZero() {
			story.CreatedAt = time.Now().UTC()
		}
		if err := story.Validate(); err != nil {
			logger.Warn("skipping backlog entry %d: %v", i+1, err)
			continue
		}
		valid = append(valid, story)
	}
	file.Stories = valid

	return &file, nil
}
