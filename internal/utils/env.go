package utils

import "os"

// SafeEnv reads an environment variable, treating an unset or empty value
// the same and substituting fallback for both.
func SafeEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
