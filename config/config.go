package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

func load() {
	loadOnce.Do(func() {
		// A missing .env file is fine in deployed environments, the
		// variables come from the process environment there.
		_ = godotenv.Load()
	})
}

// Config returns the value of a required environment variable and exits
// the process when it is unset.
func Config(envVar string) string {
	load()

	envVarValue := os.Getenv(envVar)
	if envVarValue == "" {
		fmt.Fprintf(os.Stderr, "%s not set\n", envVar)
		os.Exit(1)
	}

	return envVarValue
}

// ConfigOr returns the value of an optional environment variable, or the
// fallback when it is unset.
func ConfigOr(envVar, fallback string) string {
	load()

	if v := os.Getenv(envVar); v != "" {
		return v
	}

	return fallback
}

// ConfigInt parses an optional integer environment variable. Unset or
// unparseable values yield the fallback.
func ConfigInt(envVar string, fallback int) int {
	load()

	v := os.Getenv(envVar)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s is not a number, using default %d\n", envVar, fallback)
		return fallback
	}

	return n
}

// IsSet reports whether an environment variable has a non-empty value.
func IsSet(envVar string) bool {
	load()

	return os.Getenv(envVar) != ""
}
