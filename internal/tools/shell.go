package tools

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const defaultExecTimeout = 60 * time.Second

// ExecInput parameters for shell_exec tool
type ExecInput struct {
	Command    string `json:"command" jsonschema:"required,description=Shell command to execute"`
	WorkingDir string `json:"working_dir" jsonschema:"description=Working directory for the command"`
}

// ExecOutput result of shell_exec tool
type ExecOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// hardBlockPatterns never run, regardless of what the risk guard
// decided. The guard handles the graded cases; these are the commands
// no approval can make safe.
var hardBlockPatterns = []*regexp.Regexp{
	// rm with force/recursive targeting root or home
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+/\s*$`),
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+~`),
	// sudo variants of rm
	regexp.MustCompile(`(?i)\bsudo\s+rm\s+(-[a-z]*r[a-z]*\s+-[a-z]*f[a-z]*|-[a-z]*f[a-z]*\s+-[a-z]*r[a-z]*|-[a-z]*rf[a-z]*|-[a-z]*fr[a-z]*)\s+/\s*$`),
	// explicitly disabling root safeguards
	regexp.MustCompile(`(?i)--no-preserve-root`),
	// filesystem format commands
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	// fork bomb
	regexp.MustCompile(`:\(\)\s*\{.*\|.*&\s*\}\s*;`),
	// Windows dangerous commands
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
	regexp.MustCompile(`(?i)\bdel\s+/[a-z]\s+/[a-z]\s+/[a-z]`),
}

// isDangerous checks whether a command matches any hard-block pattern.
func isDangerous(cmd string) (bool, string) {
	for _, pat := range hardBlockPatterns {
		if pat.MatchString(cmd) {
			return true, pat.String()
		}
	}
	return false, ""
}

type execToolImpl struct {
	timeout             time.Duration
	restrictToWorkspace bool
	workspaceDir        string
}

// resolveWorkDir applies the workspace restriction to the requested
// working directory and defaults to the workspace when none is given.
func (e *execToolImpl) resolveWorkDir(requested string) (string, error) {
	if e.restrictToWorkspace && e.workspaceDir != "" {
		if requested == "" {
			return e.workspaceDir, nil
		}
		if err := validatePath(requested, e.workspaceDir); err != nil {
			return "", err
		}
		return requested, nil
	}
	if requested == "" {
		return e.workspaceDir, nil
	}
	return requested, nil
}

func (e *execToolImpl) execute(ctx context.Context, input *ExecInput) (*ExecOutput, error) {
	if dangerous, pattern := isDangerous(input.Command); dangerous {
		return &ExecOutput{
			Stderr:   fmt.Sprintf("Blocked dangerous command matching pattern: %s", pattern),
			ExitCode: 1,
		}, nil
	}

	workDir, err := e.resolveWorkDir(input.WorkingDir)
	if err != nil {
		return &ExecOutput{
			Stderr:   fmt.Sprintf("Working directory rejected: %s", err.Error()),
			ExitCode: 1,
		}, nil
	}

	timeout := e.timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(timeoutCtx, "cmd", "/C", input.Command)
	} else {
		cmd = exec.CommandContext(timeoutCtx, "sh", "-c", input.Command)
	}
	if workDir != "" {
		cmd.Dir = workDir
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return &ExecOutput{
				Stderr:   err.Error(),
				ExitCode: 1,
			}, nil
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// NewExecTool creates the shell_exec tool
func NewExecTool(timeoutSec int, restrictToWorkspace bool, workspaceDir string) (tool.InvokableTool, error) {
	impl := &execToolImpl{
		timeout:             time.Duration(timeoutSec) * time.Second,
		restrictToWorkspace: restrictToWorkspace,
		workspaceDir:        workspaceDir,
	}
	return utils.InferTool("shell_exec", "Execute a shell command", impl.execute)
}
