// Package relay implements a half-close-aware bidirectional TCP byte
// pump.
package relay
