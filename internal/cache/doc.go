// Package cache implements named caches: persistent request→response stores
// addressed by a generation identifier. A Storage owns every named cache of
// the process and exposes open / list / delete / match; a Cache holds the
// entries of one generation. Entries are HTTP/1.1 wire-format responses keyed
// by request identity (see RequestKey), so any driver can replay them
// verbatim. A cache only becomes visible to Storage.Match after it has been
// sealed, which is how a half-populated install is kept out of service.
//
// Three drivers are provided: "fs" (one directory per generation, written
// with temp file + rename), "sqlite" (a single database file) and "memory"
// (process-local, mainly for tests and ephemeral deployments).
package cache
