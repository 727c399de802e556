// Package api provides the HTTP handlers for the processing trigger and
// the admin surface.
package api
