package sources

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/verdant/internal/interfaces"
	"github.com/ternarybob/verdant/internal/models"
)

// catalogFile is the on-disk shape of a source catalog. One file may define
// multiple sources.
type catalogFile struct {
	Sources []models.SourceDefinition `toml:"sources" yaml:"sources"`
}

// LoadCatalog reads every *.toml, *.yaml and *.yml file in dir and returns
// the source definitions in catalog order. Files are processed in sorted
// name order so the overall source ordering is stable across runs.
func LoadCatalog(dir string, logger arbor.ILogger) ([]models.SourceDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var defs []models.SourceDefinition
	seen := make(map[string]string) // source ID -> file it came from
	for _, name := range names {
		path := filepath.Join(dir, name)
		catalog, err := loadCatalogFile(path)
		if err != nil {
			return nil, err
		}

		for _, def := range catalog.Sources {
			if def.ID == "" {
				return nil, fmt.Errorf("%s: source definition missing id", name)
			}
			if prev, dup := seen[def.ID]; dup {
				return nil, fmt.Errorf("%s: duplicate source id %q (already defined in %s)", name, def.ID, prev)
			}
			seen[def.ID] = name
			defs = append(defs, def)
		}

		logger.Debug().
			Str("file", name).
			Int("sources", len(catalog.Sources)).
			Msg("Loaded source catalog file")
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no source definitions found in %s", dir)
	}

	return defs, nil
}

func loadCatalogFile(path string) (*catalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var catalog catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", path)
	}

	return &catalog, nil
}

// BuildAdapters constructs one adapter per definition, preserving catalog
// order.
func BuildAdapters(defs []models.SourceDefinition, logger arbor.ILogger) ([]interfaces.SourceAdapter, error) {
	adapters := make([]interfaces.SourceAdapter, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		switch def.Adapter {
		case models.AdapterStatic:
			adapters = append(adapters, NewStaticAdapter(def))
		case models.AdapterGallery:
			if def.Gallery.URL == "" {
				return nil, fmt.Errorf("source %s: gallery adapter requires gallery.url", def.ID)
			}
			adapters = append(adapters, NewGalleryAdapter(def, logger))
		case models.AdapterGitHub:
			if def.GitHub.Owner == "" || def.GitHub.Repo == "" {
				return nil, fmt.Errorf("source %s: github adapter requires github.owner and github.repo", def.ID)
			}
			adapters = append(adapters, NewGitHubAdapter(def, logger))
		default:
			return nil, fmt.Errorf("source %s: unknown adapter type %q", def.ID, def.Adapter)
		}
	}
	return adapters, nil
}
