// Package scraper defines the shared data model, error taxonomy and
// collaborator interfaces for the land-record scraping pipeline. Workers,
// the pool and the orchestrator depend only on this package; browser,
// solver, storage and reference-data adapters implement its interfaces.
package scraper
