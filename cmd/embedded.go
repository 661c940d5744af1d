package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// defaultConfigName is the embedded config used when no file is found.
const defaultConfigName = "shrinker"

//go:embed configs/*.yaml
var configsFS embed.FS

// getEmbeddedConfig reads configs/<name>.yaml from the binary. The
// extension is optional.
func getEmbeddedConfig(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".yaml")
	return configsFS.ReadFile(path.Join("configs", name+".yaml"))
}

// listEmbeddedConfigs names the bundled configs, sorted, without extension.
func listEmbeddedConfigs() ([]string, error) {
	matches, err := fs.Glob(configsFS, "configs/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob embedded configs: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(path.Base(m), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}
