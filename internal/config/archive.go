package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"

	"github.com/danuarta/mailarchive-backend/internal/classify"
	"github.com/danuarta/mailarchive-backend/internal/mailsource"
)

// ArchiveConfig is the YAML archive definition: which mailboxes to
// ingest from, how to type incoming mail and which mailing lists to tag.
type ArchiveConfig struct {
	Sources      []mailsource.Descriptor `yaml:"sources"`
	Rules        []classify.Rule         `yaml:"rules"`
	MailingLists []classify.MailingList  `yaml:"mailing_lists"`
}

// LoadArchive reads and validates the archive definition. A missing file
// yields an empty definition, so a server can run with SMTP delivery
// only and no configured sources.
func LoadArchive(path string) (*ArchiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ArchiveConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read archive config: %w", err)
	}

	var cfg ArchiveConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse archive config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
	}

	return &cfg, nil
}
