package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotenv reads a .env file and sets environment variables that are not already defined.
// Missing file is silently ignored. Existing env vars are never overridden.
func LoadDotenv(path string) error {
	return loadDotenv(path, false)
}

// ReloadDotenv re-reads a .env file and overrides existing environment variables.
func ReloadDotenv(path string) error {
	return loadDotenv(path, true)
}

func loadDotenv(path string, override bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = unquote(value)

		if _, exists := os.LookupEnv(key); exists && !override {
			continue
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

// unquote strips matching surrounding quotes (single or double).
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
