// Package domain contains the core business entities and validation rules
// for the Verbatim audio note processing system.
package domain
