package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapCommand returns an *exec.Cmd that runs binary with args. If workRoot is
// non-empty and bubblewrap (bwrap) is available on Linux, the command runs
// inside a minimal bubblewrap sandbox. If repoDir is non-empty it is the only
// writable mount and the rest of workRoot is read-only, so an agent working
// on one repository clone cannot touch its siblings. Without bwrap the
// command runs unconfined.
func WrapCommand(ctx context.Context, workRoot, repoDir, binary string, args []string) *exec.Cmd {
	if workRoot == "" || runtime.GOOS != "linux" {
		return exec.CommandContext(ctx, binary, args...)
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	absRoot, err := filepath.Abs(workRoot)
	if err != nil {
		return exec.CommandContext(ctx, binary, args...)
	}
	var bwrapArgs []string
	if repoDir != "" {
		absRepo, _ := filepath.Abs(repoDir)
		if absRepo != "" && (absRepo == absRoot || (len(absRepo) > len(absRoot) && absRepo[len(absRoot)] == filepath.Separator)) {
			bwrapArgs = []string{
				"--ro-bind", absRoot, absRoot,
				"--bind", absRepo, absRepo,
				"--ro-bind", "/usr", "/usr",
				"--ro-bind", "/lib", "/lib",
				"--ro-bind", "/lib64", "/lib64",
				"--dev", "/dev",
				"--proc", "/proc",
				"--tmpfs", "/tmp",
				"--unshare-pid",
			}
		}
	}
	if bwrapArgs == nil {
		bwrapArgs = []string{
			"--bind", absRoot, absRoot,
			"--ro-bind", "/usr", "/usr",
			"--ro-bind", "/lib", "/lib",
			"--ro-bind", "/lib64", "/lib64",
			"--dev", "/dev",
			"--proc", "/proc",
			"--tmpfs", "/tmp",
			"--unshare-pid",
		}
	}
	bwrapArgs = append(bwrapArgs, "--", binary)
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, bwrap, bwrapArgs...)
}
