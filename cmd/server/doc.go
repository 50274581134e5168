// Package main is the entry point for the VQA dialogue backend.
//
// The server sits between a browser frontend and a vision resolver service,
// managing the clarification dialogue around each uploaded image or clip:
//
//	Frontend (browser) → Go Backend → Vision Resolver (HTTP)
//
// It provides:
//   - REST API for the analyze/clarify/chat/end_session lifecycle
//   - WebSocket streaming of committed dialogue turns
//   - In-memory session store with TTL-based reaping
//   - Prometheus metrics, rate limiting, CORS
//
// Configuration comes from environment variables (12-factor), with
// development defaults baked in.
//
// Usage:
//
//	PORT=8000 RESOLVER_URL=http://localhost:5052 ./server
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
