// Package stores persists deployment history in SQLite. Each run is stored
// with its summary and the full list of report events, so a finished
// deployment can be shown again with history show.
package stores
