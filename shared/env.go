package shared

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const Version = "0.1.0"

// GetenvFunc parses one environment variable value into T.
type GetenvFunc[T any] func(value string) (T, error)

func GetenvString(value string) (string, error) {
	return value, nil
}

func GetenvBool(value string) (bool, error) {
	return strconv.ParseBool(value)
}

func GetenvInt(value string) (int, error) {
	return strconv.Atoi(value)
}

func GetenvDuration(value string) (time.Duration, error) {
	return time.ParseDuration(value)
}

// Getenv reads and parses an environment variable. A required variable that
// is unset is an error; an optional one yields fallback.
func Getenv[T any](parse GetenvFunc[T], key string, required bool, fallback T) (T, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		if required {
			return fallback, fmt.Errorf("environment variable %s is required", key)
		}
		return fallback, nil
	}
	parsed, err := parse(value)
	if err != nil {
		return fallback, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return parsed, nil
}

// MustGetenv is Getenv for values the process cannot start without.
func MustGetenv[T any](parse GetenvFunc[T], key string, required bool, fallback T) T {
	value, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return value
}
