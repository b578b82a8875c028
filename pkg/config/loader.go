// Package config loads typed configuration structs from environment variables
// (with an optional .env file) using struct tags understood by caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cacheMu sync.Mutex
	cache   = make(map[reflect.Type]any)

	dotenvOnce sync.Once
)

// Load fills v from the environment. Each config type is parsed once per
// process; later calls for the same type return the cached value.
//
//	var cfg notifications.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotenv()

	key := reflect.TypeFor[T]()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	parsed, err := env.ParseAs[T]()
	if err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = parsed
	*v = parsed
	return nil
}

// LoadWithPrefix parses v using variables prefixed with prefix (for example
// "SCHEDULER_"). Results are not cached since the same type may be loaded
// under several prefixes.
func LoadWithPrefix[T any](v *T, prefix string) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotenv()

	parsed, err := env.ParseAsWithOptions[T](env.Options{Prefix: prefix})
	if err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	*v = parsed
	return nil
}

// MustLoad is Load that panics; intended for process startup.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Reset drops all cached values. Tests use it to re-read the environment.
func Reset() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	clear(cache)
}

func loadDotenv() {
	dotenvOnce.Do(func() {
		// A missing .env file is the normal case outside local development.
		_ = godotenv.Load()
	})
}
