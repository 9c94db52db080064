// Package queue implements C3 (spec.md §4.3) on top of NATS JetStream:
// two work-queue streams with retention until explicit ack, and the KV
// spaces backing job metadata and results. Most of this package's
// behavior only exercises meaningfully against a live JetStream server,
// so unit tests here are limited to its pure helpers; integration
// coverage belongs in the worker/orchestrator test suites that can stand
// up an in-process NATS server.
package queue
