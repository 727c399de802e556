// Package store provides abstractions and implementations for data persistence
package store
