package utils

import (
	"os"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Cleanup(func() {
		os.Unsetenv(key)
		clearEnvCache(key)
	})
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("Setenv: %v", err)
	}
	clearEnvCache(key)
}

func TestEnvOrDefaultReturnsFallbackWhenUnset(t *testing.T) {
	if got := EnvOrDefault("LIGHTWALLET_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestEnvOrDefaultReturnsSetValue(t *testing.T) {
	setEnv(t, "LIGHTWALLET_TEST_STR_VAR", "custom")
	if got := EnvOrDefault("LIGHTWALLET_TEST_STR_VAR", "fallback"); got != "custom" {
		t.Fatalf("expected %q, got %q", "custom", got)
	}
}

func TestEnvOrDefaultIntParsesSetValue(t *testing.T) {
	setEnv(t, "LIGHTWALLET_TEST_INT_VAR", "42")
	if got := EnvOrDefaultInt("LIGHTWALLET_TEST_INT_VAR", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestEnvOrDefaultIntFallsBackOnUnparsable(t *testing.T) {
	setEnv(t, "LIGHTWALLET_TEST_INT_BAD", "not-a-number")
	if got := EnvOrDefaultInt("LIGHTWALLET_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestEnvOrDefaultIntFallsBackWhenUnset(t *testing.T) {
	if got := EnvOrDefaultInt("LIGHTWALLET_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
}

func TestEnvOrDefaultUint64ParsesSetValue(t *testing.T) {
	setEnv(t, "LIGHTWALLET_TEST_UINT_VAR", "18446744073709551615")
	if got := EnvOrDefaultUint64("LIGHTWALLET_TEST_UINT_VAR", 1); got != 18446744073709551615 {
		t.Fatalf("expected max uint64, got %d", got)
	}
}

func TestEnvOrDefaultUint64FallsBackOnUnparsable(t *testing.T) {
	setEnv(t, "LIGHTWALLET_TEST_UINT_BAD", "-1")
	if got := EnvOrDefaultUint64("LIGHTWALLET_TEST_UINT_BAD", 5); got != 5 {
		t.Fatalf("expected fallback 5, got %d", got)
	}
}

func TestEnvCacheReturnsConsistentValueAfterExternalChange(t *testing.T) {
	key := "LIGHTWALLET_TEST_CACHE_VAR"
	setEnv(t, key, "first")
	if got := EnvOrDefault(key, ""); got != "first" {
		t.Fatalf("expected %q, got %q", "first", got)
	}

	os.Setenv(key, "second")
	if got := EnvOrDefault(key, ""); got != "first" {
		t.Fatalf("expected the cached value %q to stick until cleared, got %q", "first", got)
	}

	clearEnvCache(key)
	if got := EnvOrDefault(key, ""); got != "second" {
		t.Fatalf("expected %q after clearing the cache, got %q", "second", got)
	}
}
