package adapter

import (
	"os/exec"
	"strings"

	"github.com/cyntra-dev/cyntra/internal/manifest"
	"github.com/cyntra-dev/cyntra/internal/proof"
)

// gatherPatchInfo interrogates the sandbox's VCS state the way every
// adapter must: base commit as the merge-base with the default branch,
// head commit as the current tip, diff stats and modified files from the
// diff against that base, and forbidden-path violations from the issue.
func gatherPatchInfo(workcellPath string, m *manifest.Manifest, defaultBranch string) proof.Patch {
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	baseCommit := runGit(workcellPath, "merge-base", defaultBranch, "HEAD")
	headCommit := runGit(workcellPath, "rev-parse", "HEAD")
	statOutput := runGit(workcellPath, "diff", "--stat", defaultBranch+"...HEAD")
	filesOutput := runGit(workcellPath, "diff", "--name-only", defaultBranch+"...HEAD")

	var filesModified []string
	for _, f := range strings.Split(strings.TrimSpace(filesOutput), "\n") {
		if f != "" {
			filesModified = append(filesModified, f)
		}
	}

	violations := CheckForbiddenPaths(filesModified, m.Issue.ForbiddenPaths)

	return proof.Patch{
		Branch:                  m.BranchName,
		BaseCommit:              baseCommit,
		HeadCommit:              headCommit,
		DiffStats:               parseDiffStats(statOutput),
		FilesModified:           filesModified,
		ForbiddenPathViolations: violations,
	}
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
