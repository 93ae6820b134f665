// Package timeouts defines shared timeout constants used across the party
// services and clients.
package timeouts

import "time"

// JoinSession caps how long a client waits for the store while joining a
// session before surfacing a blocking error.
const JoinSession = 7 * time.Second

// StoreRequest caps a single round-trip to the shared document store.
const StoreRequest = 5 * time.Second

// Validator caps one answer-validation call to the external AI service.
const Validator = 15 * time.Second

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
