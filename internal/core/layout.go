package core

import (
	"fmt"
	"time"
)

// versionLayout renders a snapshot timestamp as a sortable version string.
const versionLayout = "2006-01-02-15-04"

// VersionFor returns the version string for a snapshot taken at t.
// Lexicographic order of versions matches chronological order.
func VersionFor(t time.Time) string {
	return t.UTC().Format(versionLayout)
}

// ParseVersion parses a version string back into its timestamp.
func ParseVersion(v string) (time.Time, error) {
	t, err := time.Parse(versionLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return t, nil
}

// NightlyKey is the archive key of a scheduled snapshot.
func NightlyKey(repository, version string) string {
	return fmt.Sprintf("nightly/%s/%s.tar.gz", repository, version)
}

// FinalKey is the archive key of the last snapshot of a repository that
// was archived upstream and will not change again.
func FinalKey(repository string) string {
	return fmt.Sprintf("final/%s.tar.gz", repository)
}

// ManifestKey is the archive key of the run manifest written after a
// backup run on the given day.
func ManifestKey(t time.Time) string {
	return fmt.Sprintf("manifests/%s.json", t.UTC().Format("2006-01-02"))
}
