package pgstore

import "embed"

// Migrations holds the goose migrations for the notification tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads.
const MigrationsDir = "migrations"
