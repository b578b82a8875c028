// Package pgstore implements the notification, preference and template
// stores on Postgres with pgx.
//
// Apply Migrations with pg.Migrate before use. Storage.Update runs the
// callback inside a transaction holding a row lock, which serializes
// concurrent channel outcomes for the same notification across instances.
//
// Integration tests run when PG_TEST_URL points at a disposable database.
package pgstore
