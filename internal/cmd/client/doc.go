// Package client contains the Cobra CLI commands that talk to a running
// replica: lifecycle control over HTTP, queue operations, and the gRPC
// health check.
package client
