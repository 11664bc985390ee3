// Package statestore defines the shared key/value store that replicas publish
// their lifecycle state to, with in-memory and pebble implementations.
// Networked backends live in the s3 and azure subpackages.
package statestore
