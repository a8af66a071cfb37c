// Package errors provides the classified error primitives used across docserve.
//
// Every failure the build pipeline can produce carries a category that names the stage
// that failed (scan, navigation, template, link, ...), a severity and a retry hint. The
// CLI adapter turns those categories into process exit codes.
//
// Example usage:
//
//	err := errors.NavigationError("manifest references missing page").
//		WithContext("page", "c.md").
//		Build()
package errors
