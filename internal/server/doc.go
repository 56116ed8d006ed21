// Package server hosts the media API behind one HTTP server.
//
// Every request passes the same middleware chain of request IDs, access
// logging, metrics, audit, security headers, CORS, rate limiting and bearer
// authentication before it reaches the gorilla/mux router.
package server
