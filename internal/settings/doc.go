// Package settings holds transproxify's immutable run configuration.
//
// A ProxySettings is built once at startup by New and shared read-only by
// every TCP and UDP session for the life of the process.
package settings
