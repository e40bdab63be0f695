// Package api hosts the HTTP submission gateway. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/cases/{country}/{state}/{jurisdiction} stages a raw docket
//     (query: mode=replace|merge, force=true) and enqueues it.
//   - GET /v1/cases/{country}/{state}/{jurisdiction}/{govid}/status returns
//     the case's ProcessingRecord.
package api
