// Package server hosts the Fiber HTTP front door. Every request outside the
// /-/ diagnostics prefix is converted to an *http.Request and handed to the
// lifecycle runtime's fetch path; the response (from cache or network) is
// written back verbatim with X-Offcache-Source and X-Offcache-Generation.
// Keep exports narrow and accept explicit dependencies so tests can inject
// fake dispatchers.
package server
