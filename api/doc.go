// Package api defines the HTTP API's request and response shapes for the
// SkillFlow dispatcher.
//
// # API Overview
//
// SkillFlow exposes a small RESTful surface:
//   - Capability dispatch (POST /api/v1/invoke)
//   - Execution history lookup and listing (GET /api/v1/executions)
//   - Health monitoring and Prometheus metrics
//
// # Authentication
//
// When auth is enabled in the server configuration, API endpoints require a
// JWT bearer token:
//
//	Authorization: Bearer <token>
//
// Health and metrics endpoints are always exempt.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
