package executor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

// allowedCommands is the fixed basename allow-list (spec §4.3): compiler
// toolchains, common shells, and the Claude CLI. Generalizes the teacher's
// ShellPlugin whitelist (echo/cat/grep/...) to the coordination substrate's
// actual workload.
var allowedCommands = map[string]bool{
	"go":       true,
	"gofmt":    true,
	"cargo":    true,
	"rustc":    true,
	"gcc":      true,
	"clang":    true,
	"javac":    true,
	"python":   true,
	"python3":  true,
	"node":     true,
	"npm":      true,
	"npx":      true,
	"make":     true,
	"bash":     true,
	"sh":       true,
	"zsh":      true,
	"claude":   true,
	"git":      true,
}

var unsafeArgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^&`),
	regexp.MustCompile(`;$`),
	regexp.MustCompile(`\|\|`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`\|`),
	regexp.MustCompile(`>`),
	regexp.MustCompile(`<`),
}

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-:]+$`)

// validateRequest enforces the spec §4.3 security allow-list. It never
// shells out to check anything — pure string/regex validation, so a
// rejected request never touches os/exec.
func validateRequest(req Request) error {
	base := filepath.Base(req.Command)
	if !allowedCommands[base] {
		return fmt.Errorf("%w: %s", types.ErrCommandNotAllowed, base)
	}

	for _, arg := range req.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		for _, pattern := range unsafeArgPatterns {
			if pattern.MatchString(arg) {
				return fmt.Errorf("%w: argument %q", types.ErrUnsafeArgument, arg)
			}
		}
	}

	if req.Options.ModelName != "" && !modelNamePattern.MatchString(req.Options.ModelName) {
		return fmt.Errorf("%w: model name %q", types.ErrUnsafeArgument, req.Options.ModelName)
	}
	if req.Options.MaxTokens < 0 {
		return fmt.Errorf("%w: maxTokens must be positive", types.ErrUnsafeArgument)
	}

	return nil
}
