package sqlitemigrations

import "embed"

// FS contains the embedded SQLite schema for the trivia store.
//
//go:embed *.sql
var FS embed.FS
