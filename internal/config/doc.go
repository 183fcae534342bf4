// Package config resolves runtime settings. Defaults are overlaid by
// environment variables, then by an optional YAML document and finally by
// CLI flags. The merged Config is checked with struct validation plus the
// cross-section rules (redis address, catalog limits, file watching) before
// anything is wired.
package config
