package goswcache

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the build-time list of asset URLs to pre-cache on install.
// Entries are either absolute URLs or origin-relative paths; relative entries
// are resolved against the configured origin at install time.
type Manifest []string

type manifestFile struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest reads a YAML asset manifest produced by the build pipeline.
func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf manifestFile
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return nil, err
	}
	if len(mf.Assets) == 0 {
		return nil, fmt.Errorf("manifest %s lists no assets", path)
	}
	for i, a := range mf.Assets {
		if a == "" {
			return nil, fmt.Errorf("manifest %s: empty entry at index %d", path, i)
		}
	}
	return Manifest(mf.Assets), nil
}

// resolve turns a manifest entry into an absolute URL.
func (m Manifest) resolve(entry, origin string) string {
	if strings.Contains(entry, "://") {
		return entry
	}
	if !strings.HasPrefix(entry, "/") {
		entry = "/" + entry
	}
	return origin + entry
}
