package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
)

// writeCommands submit transactions or mutate remote setup state.
var writeCommands = map[string]struct{}{
	"approval approve":   {},
	"approval revoke":    {},
	"delegation enable":  {},
	"delegation disable": {},
	"setup agent":        {},
	"setup link":         {},
	"setup create":       {},
}

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// CheckWriteAllowed blocks write commands in read-only mode.
func CheckWriteAllowed(readOnly bool, commandPath string) error {
	if !readOnly || !IsWriteCommand(commandPath) {
		return nil
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --read-only policy")
}

func IsWriteCommand(commandPath string) bool {
	_, ok := writeCommands[normalize(commandPath)]
	return ok
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
