// Package redisstore implements the durable fixed-window counter store on
// Redis, backing the rate limiter and the quota windows.
package redisstore
