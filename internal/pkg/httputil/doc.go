// Package httputil carries the JSON request and response helpers shared by
// the management API handlers, so every endpoint answers with the same
// envelope and error shape.
package httputil
