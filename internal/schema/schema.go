// Package schema describes the command tree as data so that agents driving
// the CLI can discover commands, flags and which commands change state.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Runnable    bool            `json:"runnable"`
	Mutating    bool            `json:"mutating"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Inherited   []FlagSchema    `json:"inherited_flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Usage   string `json:"usage"`
	Default string `json:"default,omitempty"`
}

// Options tune what Build reports.
type Options struct {
	// Mutating reports whether the command at path (root name trimmed)
	// sends transactions or changes remote state.
	Mutating      func(path string) bool
	// WithInherited includes persistent flags inherited from parents.
	WithInherited bool
}

// Build serializes the command at commandPath, or the whole tree when it is
// empty. Hidden commands and the help command are left out.
func Build(root *cobra.Command, commandPath string, opts Options) (CommandSchema, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		next := child(cmd, part)
		if next == nil {
			return CommandSchema{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}
	return serialize(cmd, opts), nil
}

func child(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return c
			}
		}
	}
	return nil
}

func serialize(cmd *cobra.Command, opts Options) CommandSchema {
	path := strings.TrimSpace(cmd.CommandPath())
	s := CommandSchema{
		Path:     path,
		Use:      cmd.Use,
		Short:    cmd.Short,
		Runnable: cmd.Runnable(),
		Flags:    collect(cmd.NonInheritedFlags()),
	}
	if opts.Mutating != nil && s.Runnable {
		s.Mutating = opts.Mutating(withoutRoot(path))
	}
	if opts.WithInherited {
		s.Inherited = collect(cmd.InheritedFlags())
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub, opts))
	}
	return s
}

func collect(set *pflag.FlagSet) []FlagSchema {
	items := []FlagSchema{}
	set.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		items = append(items, FlagSchema{
			Name:    f.Name,
			Type:    f.Value.Type(),
			Usage:   f.Usage,
			Default: f.DefValue,
		})
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func withoutRoot(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}
