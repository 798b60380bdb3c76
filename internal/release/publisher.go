// Package release creates tagged releases and attaches pack archives to them.
// Creating a release and uploading its asset are two separate remote calls;
// callers that need both to succeed must compensate with DeleteRelease.
package release

import (
	"context"
	"errors"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrReleaseExists is returned by CreateRelease when the tag is taken.
	ErrReleaseExists = errors.New("release already exists")

	// ErrAssetExists is returned by UploadAsset when the release already has
	// an asset with that file name.
	ErrAssetExists = errors.New("release asset already exists")

	// ErrReleaseNotFound is returned by FindRelease for an unknown tag.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrNotConfigured is returned by backends missing their credential.
	ErrNotConfigured = errors.New("release publisher not configured")
)

// Handle identifies a created release.
type Handle struct {
	ID  string // backend identifier
	Tag string
	URL string // human-facing page for the release
}

// Publisher is the release and asset host.
type Publisher interface {
	CreateRelease(ctx context.Context, tag, title, notes string, prerelease bool) (Handle, error)
	FindRelease(ctx context.Context, tag string) (Handle, error)
	UploadAsset(ctx context.Context, h Handle, filename, contentType string, data []byte) (string, error)
	DeleteRelease(ctx context.Context, h Handle) error

	// DownloadURL returns the durable URL of an asset without contacting the
	// backend.
	DownloadURL(h Handle, filename string) string
}

// IsPrerelease reports whether version is a semantic version with a
// prerelease component. Versions that do not parse are treated as regular
// releases rather than rejected.
func IsPrerelease(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}
