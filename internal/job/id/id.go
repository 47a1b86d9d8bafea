// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: job-<uuid v4>
func Generate() string {
	return "job-" + uuid.NewString()
}
