package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file if it exists.
// Variables already present in the process environment are not overridden.
func LoadEnv(filename string) error {
	err := godotenv.Load(filename)
	if errors.Is(err, fs.ErrNotExist) {
		// .env file is optional
		return nil
	}
	return err
}

// GetRPCEndpoints returns RPC endpoints from the environment
func GetRPCEndpoints() []string {
	return splitList(os.Getenv("RPC_ENDPOINTS"))
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
