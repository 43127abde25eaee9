package settings

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "copilotctl"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("COPILOTCTL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".copilotctl", defaultConfigFile)
}

// TokenPathFor places the token file next to the given config file.
func TokenPathFor(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), defaultTokenFile)
}
