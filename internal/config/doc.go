// Package config loads, normalizes, and validates refinebox configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. Values that the original research scripts
// kept as module constants (pipeline method, output folders, manifest path,
// dataset root) live here so command flags can override them per run.
package config
