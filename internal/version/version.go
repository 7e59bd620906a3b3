package version

import (
	"fmt"
	"strings"
)

// These variables are populated at build time using ldflags.
// Example: go build -ldflags "-X 'github.com/user00265/ctydna/internal/version.GitCommit=f80cf83' -X 'github.com/user00265/ctydna/internal/version.BuildVersion=1.0.0'" ./cmd/ctydna
var (
	// ProjectName is the name of the project.
	ProjectName = "ctydna"

	// ProjectGitHubURL is the GitHub repository URL.
	ProjectGitHubURL = "https://github.com/user00265/ctydna"

	// BuildVersion represents the semantic version of the build.
	BuildVersion = "unknown"

	// GitCommit represents the short Git commit hash.
	GitCommit = "unknown"
)

// ProjectVersion is "X.Y.Z+COMMIT" when both build variables are set, "unknown" otherwise.
var ProjectVersion = "unknown"

// UserAgent is the full User-Agent string used for source downloads.
var UserAgent = fmt.Sprintf("%s/%s (+%s)", ProjectName, ProjectVersion, ProjectGitHubURL)

// init runs after ldflags have been applied, so the derived strings see injected values.
func init() {
	ProjectVersion = buildProjectVersion(BuildVersion, GitCommit)
	UserAgent = fmt.Sprintf("%s/%s (+%s)", ProjectName, ProjectVersion, ProjectGitHubURL)
}

func buildProjectVersion(build, commit string) string {
	if build == "unknown" || commit == "unknown" || build == "" || commit == "" {
		return "unknown"
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s+%s", strings.TrimPrefix(build, "v"), commit)
}
