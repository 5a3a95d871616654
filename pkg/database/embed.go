package database

import "embed"

// Migrations holds the bundled schema for every supported driver, one
// directory per driver under migrations/.
//
//go:embed migrations
var Migrations embed.FS
