package models

// Adapter type identifiers for source definitions.
const (
	AdapterStatic  = "static"
	AdapterGallery = "gallery"
	AdapterGitHub  = "github"
)

// RateLimitConfig bounds outbound calls per rolling window for one source.
type RateLimitConfig struct {
	Calls  int      `toml:"calls" yaml:"calls" json:"calls"`
	Period Duration `toml:"period" yaml:"period" json:"period"`
}

// StaticItem is one inline candidate in a static source definition.
type StaticItem struct {
	URL      string `toml:"url" yaml:"url" json:"url"`
	Category string `toml:"category" yaml:"category" json:"category"`
	License  string `toml:"license" yaml:"license" json:"license"`
}

// GallerySettings configures the HTML gallery adapter.
type GallerySettings struct {
	URL      string `toml:"url" yaml:"url" json:"url"`
	Selector string `toml:"selector" yaml:"selector" json:"selector"` // defaults to "img"
	License  string `toml:"license" yaml:"license" json:"license"`
	Category string `toml:"category" yaml:"category" json:"category"`
}

// GitHubSettings configures the GitHub repository adapter.
type GitHubSettings struct {
	Owner    string `toml:"owner" yaml:"owner" json:"owner"`
	Repo     string `toml:"repo" yaml:"repo" json:"repo"`
	Path     string `toml:"path" yaml:"path" json:"path"`
	Ref      string `toml:"ref" yaml:"ref" json:"ref"`
	Token    string `toml:"token" yaml:"token" json:"token"`
	License  string `toml:"license" yaml:"license" json:"license"`
	Category string `toml:"category" yaml:"category" json:"category"`
}

// SourceDefinition describes one external source and how to enumerate it.
type SourceDefinition struct {
	ID               string          `toml:"id" yaml:"id" json:"id"`
	Adapter          string          `toml:"adapter" yaml:"adapter" json:"adapter"`
	Categories       []string        `toml:"categories" yaml:"categories" json:"categories"`
	LicenseAllowList []string        `toml:"licenses" yaml:"licenses" json:"licenses"`
	RateLimit        RateLimitConfig `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit"`

	Items   []StaticItem    `toml:"items" yaml:"items" json:"items,omitempty"`
	Gallery GallerySettings `toml:"gallery" yaml:"gallery" json:"gallery,omitempty"`
	GitHub  GitHubSettings  `toml:"github" yaml:"github" json:"github,omitempty"`
}

// LicenseAllowed reports whether tag passes the source's license allow-list.
// An empty allow-list accepts everything.
func (s *SourceDefinition) LicenseAllowed(tag string) bool {
	if len(s.LicenseAllowList) == 0 {
		return true
	}
	for _, allowed := range s.LicenseAllowList {
		if allowed == tag {
			return true
		}
	}
	return false
}
