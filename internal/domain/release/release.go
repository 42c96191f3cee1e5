package release

import (
	"fmt"
	"net/url"
	"strconv"
)

// BuildURLVariable names the link of the first artifact. Links of every
// artifact are also published under BuildURLVariable + "_" + index.
const BuildURLVariable = "FABRIC_BETA_BUILD_URL"

// BuildIdentity is the build record embedded in an artifact.
// Every field is optional; an identity exists only when the record was
// present and non-empty.
type BuildIdentity struct {
	// ApplicationName is the human-readable app name (app_name).
	ApplicationName string
	// PackageName is the Android application id (package_name).
	PackageName string
	// BuildInstanceID identifies this build on the backend (build_id).
	BuildInstanceID string
	// DisplayVersion is the user-facing version name (version_name).
	DisplayVersion string
	// BuildVersionCode is the integer version code (version_code).
	BuildVersionCode string
}

// ReleaseLink renders the beta release URL for the organization.
func (b *BuildIdentity) ReleaseLink(organization string) string {
	return fmt.Sprintf(
		"https://fabric.io/%s/android/apps/%s/beta/releases/%s?build_version=%s&display_version=%s",
		organization, b.PackageName, b.BuildInstanceID, b.BuildVersionCode, b.DisplayVersion,
	)
}

// Link is one (name, value) pair handed to later pipeline steps.
type Link struct {
	Name  string
	Value string
}

// LinksFor returns the side-channel entries for the artifact at index.
// Index 0 additionally gets the unsuffixed name.
func LinksFor(index int, link string) []Link {
	links := make([]Link, 0, 2)
	if index == 0 {
		links = append(links, Link{Name: BuildURLVariable, Value: link})
	}

	return append(links, Link{Name: BuildURLVariable + "_" + strconv.Itoa(index), Value: link})
}

// LinksToMap flattens links; later entries win on duplicate names.
func LinksToMap(links []Link) map[string]string {
	out := make(map[string]string, len(links))
	for _, l := range links {
		out[l.Name] = l.Value
	}

	return out
}

// ArtifactResult is the outcome of processing one artifact.
type ArtifactResult struct {
	// Index is the position of the artifact in the located list.
	Index int
	// Path is where the artifact was found (local path or remote URL).
	Path string
	// Uploaded is true when the tool reported no diagnostics.
	Uploaded bool
	// Diagnostics are the lines the tool wrote to its error stream.
	Diagnostics []string
	// Link is the derived release link, empty when none could be built.
	Link string
}

// Outcome aggregates a whole run.
type Outcome struct {
	Artifacts []ArtifactResult
	Links     []Link
}

// Succeeded is true when at least one artifact was processed and all were uploaded.
func (o *Outcome) Succeeded() bool {
	if o == nil || len(o.Artifacts) == 0 {
		return false
	}

	for i := range o.Artifacts {
		if !o.Artifacts[i].Uploaded {
			return false
		}
	}

	return true
}

// Failed returns the artifacts whose upload failed.
func (o *Outcome) Failed() []ArtifactResult {
	if o == nil {
		return nil
	}

	var failed []ArtifactResult

	for _, a := range o.Artifacts {
		if !a.Uploaded {
			failed = append(failed, a)
		}
	}

	return failed
}

// IsRemotePath reports whether p names an artifact reachable only over HTTP(S).
func IsRemotePath(p string) bool {
	u, err := url.Parse(p)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
