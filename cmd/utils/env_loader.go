package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envFileFlag   = "--env-file"
	envFileEnvVar = "ENV_FILE"
)

// LoadEnvFile hydrates the process environment from a dotenv file before any
// config option is resolved. An explicitly named file (--env-file flag first,
// then the ENV_FILE variable) must exist. The fallback .env in the working
// directory is optional.
func LoadEnvFile() error {
	if path := envFilePath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env file: %w", err)
	}
	return nil
}

// envFilePath resolves the explicit env file path. Relative paths are
// anchored at the working directory.
func envFilePath() string {
	path := parseEnvFileFlag()
	if path == "" {
		path = os.Getenv(envFileEnvVar)
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// parseEnvFileFlag scans os.Args directly because the env file has to be
// loaded before cobra parses anything.
func parseEnvFileFlag() string {
	for i, arg := range os.Args {
		if arg == envFileFlag && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, envFileFlag+"=") {
			return strings.TrimPrefix(arg, envFileFlag+"=")
		}
	}
	return ""
}
