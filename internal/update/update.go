// Package update checks GitHub for a newer magpipe release. The check is
// best effort: any failure, timeout, or malformed response yields no result
// rather than an error, so a flaky network never delays a command.
package update

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// GitHubReleasesURL is the latest-release endpoint. Tests point it at a
// local server.
var GitHubReleasesURL = "https://api.github.com/repos/elagerway/magpipe/releases/latest"

const checkTimeout = 5 * time.Second

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckResult describes the outcome of a release check.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateURL       string
	UpdateAvailable bool
}

// CheckForUpdate compares the running version against the newest published
// release. Dev builds skip the check; a nil result means nothing to report.
func CheckForUpdate(ctx context.Context, currentVersion string) *CheckResult {
	if currentVersion == "dev" || currentVersion == "" {
		return nil
	}

	rel, ok := fetchLatest(ctx)
	if !ok {
		return nil
	}

	result := &CheckResult{
		CurrentVersion: currentVersion,
		LatestVersion:  strings.TrimPrefix(rel.TagName, "v"),
		UpdateURL:      rel.HTMLURL,
	}
	current := canonical(currentVersion)
	latest := canonical(rel.TagName)
	if semver.IsValid(current) && semver.IsValid(latest) {
		result.UpdateAvailable = semver.Compare(latest, current) > 0
	}
	return result
}

func fetchLatest(ctx context.Context) (release, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GitHubReleasesURL, nil)
	if err != nil {
		return release{}, false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return release{}, false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return release{}, false
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return release{}, false
	}
	return rel, true
}

// canonical normalizes a release tag into the "vMAJOR.MINOR.PATCH" form
// semver.Compare expects.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
