// Package postgres provides PostgreSQL implementations of the store
// interfaces used by the processing engine.
package postgres
