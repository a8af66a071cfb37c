// Package git derives per-file last-modified timestamps from the history of
// the repository that contains the content root.
package git
