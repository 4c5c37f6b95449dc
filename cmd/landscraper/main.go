// Package main hosts the landscraper entrypoint for container builds.
//
// Architecture overview:
//   - Reference data: a zone JSON file lists districts, talukas and villages. A run's scope (district plus optional
//     taluka) expands into one work unit per village.
//   - Session pool: each run opens contexts x tabs_per_context Chrome tabs. Tabs in one browser context share cookies,
//     and every tab is owned by exactly one worker for the run's lifetime.
//   - Workers: a worker pulls units from the run's queue, drives the form (district, taluka, village, survey), solves
//     the image challenge through the shared rate limiter and the cached Gemini solver, and stores each VF-7 page as a
//     JSON artifact in the configured blob store (memory, local or GCS).
//   - Recovery: failures are classified and answered with the cheapest reset first: back link, form reload, full
//     reset. Units that exhaust their attempts are recorded as failed and the run continues.
//   - Reporting: per-unit results flow through the progress hub to the log, Prometheus and run-store sinks. The final
//     report is written next to the artifacts and announced on Pub/Sub when enabled.
//
// Quick checklist:
//   - Configure env vars: SCRAPER_FORM_URL, GEMINI_API_KEYS (comma separated), SCRAPER_REFERENCE_PATH,
//     SCRAPER_STORAGE_BACKEND, SCRAPER_DB_DRIVER and SCRAPER_DB_DSN, SCRAPER_PUBSUB_ENABLED and project/topic.
//   - One-off run: go run ./cmd/landscraper run --district 02 --taluka 04 -o report.json
//   - Service: go run ./cmd/landscraper serve, then POST /v1/runs {"district":"02"}.
package main

import (
	"github.com/JakeFAU/landrecord-scraper/cmd"
)

func main() {
	cmd.Execute()
}
