package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/glyphmap/tilesync/internal/errors"
)

// searchDirs lists the config directories for the current platform, most
// specific first.
func searchDirs(home string) []string {
	if runtime.GOOS == "windows" {
		return []string{".", filepath.Join(home, "AppData", "Roaming", appDirectory)}
	}
	return []string{".", filepath.Join(home, ".config", appDirectory), filepath.Join("/etc", appDirectory)}
}

func hasConfigFile(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ConfigFile))
	return err == nil && !info.IsDir()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// Once one of them holds a config file, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "resolve-home").
			Build()
	}
	dirs := searchDirs(home)
	for _, dir := range dirs {
		if hasConfigFile(dir) {
			return []string{dir}, nil
		}
	}
	return dirs, nil
}

// FindConfigFile returns the path of the first existing config file.
func FindConfigFile() (string, error) {
	dirs, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		if hasConfigFile(dir) {
			return filepath.Join(dir, ConfigFile), nil
		}
	}
	return "", errors.Newf("no %s in %v", ConfigFile, dirs).
		Category(errors.CategoryNotFound).
		Build()
}

// UserConfigPath is where "tilesync config init" writes a new file: the
// existing config file if there is one, otherwise the per-user directory.
func UserConfigPath() (string, error) {
	dirs, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	dir := dirs[0]
	if len(dirs) > 1 {
		dir = dirs[1]
	}
	return filepath.Join(dir, ConfigFile), nil
}
