package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// DefaultIDPrefix marks built-in tools, which belong to no member.
const DefaultIDPrefix = "default-"

type defaultFile struct {
	Tools []defaultEntry `yaml:"tools"`
}

type defaultEntry struct {
	Slug           string `yaml:"slug"`
	Name           string `yaml:"name"`
	Icon           string `yaml:"icon"`
	Category       string `yaml:"category"`
	SubCategory    string `yaml:"subCategory"`
	Tooltip        string `yaml:"tooltip"`
	InstallCommand string `yaml:"installCommand"`
	ZshrcCommand   string `yaml:"zshrcCommand"`
	Description    string `yaml:"description"`
	DownloadURL    string `yaml:"downloadUrl"`
	HasSettings    bool   `yaml:"hasSettings"`
}

// LoadDefaults reads the built-in catalog from path, or the embedded copy
// when path is empty.
func LoadDefaults(path string) ([]models.Tool, error) {
	if path == "" {
		return ParseDefaults(defaultCatalog)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open default catalog: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read default catalog: %w", err)
	}
	return ParseDefaults(data)
}

// ParseDefaults decodes a default catalog document. Every entry must pass
// the tool invariants and slugs must be unique.
func ParseDefaults(data []byte) ([]models.Tool, error) {
	var file defaultFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse default catalog: %w", err)
	}

	epoch := time.Unix(0, 0).UTC()
	seen := make(map[string]bool, len(file.Tools))
	tools := make([]models.Tool, 0, len(file.Tools))
	for i, e := range file.Tools {
		if e.Slug == "" {
			return nil, fmt.Errorf("default catalog entry %d: missing slug", i)
		}
		if seen[e.Slug] {
			return nil, fmt.Errorf("default catalog entry %d: duplicate slug %q", i, e.Slug)
		}
		seen[e.Slug] = true

		draft := models.ToolDraft{
			Name:           e.Name,
			Icon:           e.Icon,
			Category:       models.Category(e.Category),
			SubCategory:    models.SubCategory(e.SubCategory),
			Tooltip:        e.Tooltip,
			InstallCommand: e.InstallCommand,
			ZshrcCommand:   e.ZshrcCommand,
			Description:    e.Description,
			DownloadURL:    e.DownloadURL,
			HasSettings:    e.HasSettings,
			IsShared:       true,
		}
		// ordered by position in the file
		t := draft.Materialize(DefaultIDPrefix+e.Slug, "", epoch.Add(time.Duration(i)*time.Second))
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("default catalog entry %q: %w", e.Slug, err)
		}
		tools = append(tools, t)
	}
	return tools, nil
}
