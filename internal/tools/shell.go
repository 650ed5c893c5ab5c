package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Command patterns denied regardless of who is asking. The shell tool is only
// handed to shell specialists; this is the backstop below that policy.
var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--(recursive|force)`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+-`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
	regexp.MustCompile(`\bprintenv\b`),
	regexp.MustCompile(`^\s*env\s*($|\||>)`),
}

// ShellTool runs commands under the workspace. It carries the reserved "shell"
// name, so the policy builder strips it for non-specialist members.
func ShellTool(workspace string, timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tool{
		Name:        "shell",
		Description: "Execute a shell command in the workspace and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute.",
				},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Working directory, relative to the workspace.",
				},
			},
			"required": []any{"command"},
		},
		Call: func(ctx context.Context, tc *CallContext) (*Result, error) {
			command := strings.TrimSpace(strArg(tc, "command"))
			if command == "" {
				return ErrorResult("command is required"), nil
			}
			for _, pattern := range shellDenyPatterns {
				if pattern.MatchString(command) {
					return ErrorResult(fmt.Sprintf("command denied by safety policy: matches %s", pattern)), nil
				}
			}

			cwd := workspace
			if wd := strArg(tc, "working_dir"); wd != "" {
				resolved := filepath.Join(workspace, filepath.Clean("/"+wd))
				cwd = resolved
			}

			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = cwd

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err := cmd.Run()

			output := stdout.String()
			if stderr.Len() > 0 {
				if output != "" {
					output += "\n"
				}
				output += "STDERR:\n" + stderr.String()
			}
			if err != nil {
				if runCtx.Err() == context.DeadlineExceeded {
					return ErrorResult(fmt.Sprintf("command timed out after %s", timeout)), nil
				}
				if output == "" {
					output = err.Error()
				}
				return ErrorResult(output), nil
			}
			if output == "" {
				output = "(command completed with no output)"
			}
			return NewResult(output), nil
		},
	}
}
