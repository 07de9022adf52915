// Package session owns the lifecycle of game downloads. A Coordinator
// serializes start, pause, resume, cancel and file removal through a single
// owner, applies engine telemetry to the session registry and exposes the
// derived progress view together with the deletion-in-progress flags.
package session
