// Package config provides configuration loading and validation for the voice
// analysis service. It handles YAML-based configuration with per-section
// struct validation on top of built-in defaults.
package config
