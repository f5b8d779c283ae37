package utils

import (
	"fmt"

	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
// This handles all Unicode characters including Turkish, European, and other languages
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}

	// Use gosimple/slug which handles all international characters properly
	return slug.Make(text)
}

// GenerateSchedulerName creates the default display name of a scheduler from
// the host it runs on and a process-wide instance number
func GenerateSchedulerName(hostname string, instance uint64) string {
	host := NormalizeSlug(hostname)
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-scheduler-%d", host, instance)
}

// GenerateJobName creates a job name from free text, for clients that submit
// display titles instead of names
func GenerateJobName(title string) string {
	if title == "" {
		return "job"
	}
	return NormalizeSlug(title)
}
