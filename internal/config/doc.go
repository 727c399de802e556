// Package config defines the application configuration structure and
// handles loading values from the environment and optional config files.
package config
