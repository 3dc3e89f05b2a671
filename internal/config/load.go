package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default locations of the shipped configuration files, relative to the
// repository root.
const (
	DefaultCarsPath       = "config/cars.json"
	DefaultDonutPath      = "config/donut.route.json"
	DefaultCloverleafPath = "config/cloverleaf.route.json"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

type validator interface {
	Validate() error
}

// readJSON decodes a size-capped .json file into dst and validates it.
func readJSON(path string, dst validator) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadRouteConfig loads and validates a route description.
func LoadRouteConfig(path string) (*RouteConfig, error) {
	cfg := &RouteConfig{}
	if err := readJSON(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCarsConfig loads and validates the vehicle and behaviour catalog.
// Spawn policy fields omitted from the file fall back to the Get* defaults.
func LoadCarsConfig(path string) (*CarsConfig, error) {
	cfg := &CarsConfig{}
	if err := readJSON(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// candidates lists path for the repository root and the package directories
// tests run from.
func candidates(path string) []string {
	return []string{
		path,
		"../../" + path, // from internal/<pkg>/
		"../../../" + path,
	}
}

// MustLoadRoute loads one of the shipped route files, searching upward from
// the current directory. Panics on failure; intended for tests.
func MustLoadRoute(path string) *RouteConfig {
	for _, p := range candidates(path) {
		if cfg, err := LoadRouteConfig(p); err == nil {
			return cfg
		}
	}
	panic("cannot find " + path + " - run tests from repository root")
}

// MustLoadCars loads the shipped cars file. Panics on failure; intended for tests.
func MustLoadCars() *CarsConfig {
	for _, p := range candidates(DefaultCarsPath) {
		if cfg, err := LoadCarsConfig(p); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultCarsPath + " - run tests from repository root")
}
