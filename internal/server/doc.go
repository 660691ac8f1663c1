// Package server exposes the chat engine over HTTP and WebSocket.
//
// A Server owns every piece of process state: the session registry, the
// engine, the idle reaper, the persistence worker pool and the HTTP server.
// There are no package-level singletons; tests build as many servers as they
// need.
package server
