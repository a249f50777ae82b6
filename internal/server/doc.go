// Package server is the HTTP API over the session coordinator. Handlers
// stay thin: request decoding, member JWT verification, the vote-skip
// threshold, and error-to-status mapping. All session semantics live in the
// coordinator package.
package server
