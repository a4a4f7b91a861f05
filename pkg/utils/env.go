package utils

import (
	"os"
	"strconv"
	"sync"
)

var envCache sync.Map

func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		s, _ := v.(string)
		return s, true
	}
	v, ok := os.LookupEnv(key)
	if ok {
		envCache.Store(key, v)
	}
	return v, ok
}

// clearEnvCache is a test helper; production code never needs to evict.
func clearEnvCache(key string) { envCache.Delete(key) }

// EnvOrDefault returns the named environment variable, or fallback if unset.
func EnvOrDefault(key, fallback string) string {
	if v, ok := getEnv(key); ok {
		return v
	}
	return fallback
}

// EnvOrDefaultInt parses the named environment variable as an int, or
// returns fallback if unset or unparsable.
func EnvOrDefaultInt(key string, fallback int) int {
	v, ok := getEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvOrDefaultUint64 parses the named environment variable as a uint64, or
// returns fallback if unset or unparsable.
func EnvOrDefaultUint64(key string, fallback uint64) uint64 {
	v, ok := getEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
