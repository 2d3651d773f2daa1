package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// CLIConfig carries the daemon's command line flags into Init. Flags win
// over environment variables, which win over defaults.
type CLIConfig struct {
	ConfigFile string
	EnvFile    string
	Port       string
	DevMode    bool
}

type config struct {
	devMode    bool
	apiPort    string
	configFile string
	file       *FileConfig
}

var cfg config

// Init loads the environment, the optional YAML config file, and validates
// the result. Must be called once before any getter.
func Init(cli CLIConfig) error {
	envFile := cli.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env file is fine, the environment may already be set.
	if err := godotenv.Load(envFile); err != nil && cli.EnvFile != "" {
		return fmt.Errorf("error loading env file %s: %w", cli.EnvFile, err)
	}

	port := cli.Port
	if port == "" {
		port = os.Getenv("GOVERNOR_API_PORT")
	}
	if port == "" {
		port = "9090"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid API port %q: %w", port, err)
	}

	path := cli.ConfigFile
	if path == "" {
		path = os.Getenv("GOVERNOR_CONFIG_FILE")
	}

	file := DefaultFileConfig()
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
		file = loaded
	}

	cfg = config{
		devMode:    cli.DevMode || os.Getenv("DEV_MODE") == "true",
		apiPort:    port,
		configFile: path,
		file:       file,
	}
	return nil
}

// IsDevMode reports whether the daemon runs with development logging.
func IsDevMode() bool {
	return cfg.devMode
}

// APIPort returns the operator API port.
func APIPort() string {
	return cfg.apiPort
}

// ConfigFilePath returns the YAML config file path, empty when defaults
// are in use.
func ConfigFilePath() string {
	return cfg.configFile
}

// File returns the loaded (or default) file configuration.
func File() *FileConfig {
	return cfg.file
}
