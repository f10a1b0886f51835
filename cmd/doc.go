// Package cmd defines the climatedata command line.
//
// Architecture overview:
//   - build: `climatedata build <publisher_ref>` pages through the IATI Datastore activity search for one
//     publisher, labels every activity by whether its tags include the climate-finance narrative, drops
//     duplicate rows, downsamples the unrelated rows with a fixed seed, and writes `<publisher_ref>.csv` to
//     the configured output backend (local directory, memory, GCS or S3).
//   - serve: `climatedata serve` exposes the same pipeline over HTTP (internal/api) together with the run
//     ledger, health probes and Prometheus metrics.
//   - Plumbing: internal/config loads Viper settings (file, .env, CLIMATEDATA_* env); internal/app wires the
//     colly fetcher, datastore client, blob store, run ledger (Postgres or memory), Pub/Sub notifications and
//     the progress hub; zap provides structured logging on stderr so stdout carries only the build summary.
//
// Operational notes:
//   - The subscription key is read from datastore.subscription_key, CLIMATEDATA_DATASTORE_SUBSCRIPTION_KEY
//     or API_KEY.
//   - One-shot builds push their metrics to metrics.pushgateway_url when it is set.
//   - SIGINT and SIGTERM cancel the in-flight build or drain the HTTP server.
package cmd
