// Package mongostore keeps notification preferences and templates in MongoDB.
//
// Preferences and templates are document-shaped and change rarely; deployments
// that already run MongoDB for the school directory keep them there while the
// high-churn notification records stay in Postgres (pgstore).
//
// Integration tests run when MONGODB_TEST_URL is set.
package mongostore
