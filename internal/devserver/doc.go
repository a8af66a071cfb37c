// Package devserver serves the latest published build over HTTP, watches the
// content root and rebuilds incrementally on change, and pushes reload
// notifications to connected browsers.
package devserver
