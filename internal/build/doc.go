// Package build provides the canonical build execution pipeline for docserve.
//
// An Orchestrator owns the caches between builds and runs one build at a time:
// scan, assemble navigation, render, compose and write. Clean builds process
// every page; incremental builds reuse cached work whose inputs did not change
// and produce byte-identical output. All execution paths (CLI, dev server,
// tests) route through the Orchestrator.
package build
