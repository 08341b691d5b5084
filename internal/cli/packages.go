package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/pkgloader"
)

// PackagesOptions holds flags for the packages command.
type PackagesOptions struct {
	*RootOptions
	Describe bool
}

// PackageInfo is one listed package.
type PackageInfo struct {
	Name    string          `json:"name"`
	Servers []string        `json:"servers"`
	Modules []string        `json:"modules"`
	Fields  json.RawMessage `json:"interface,omitempty"`
}

// NewPackagesCommand creates the packages command.
func NewPackagesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PackagesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "packages [dir]",
		Short: "List the valid packages of a package directory",
		Long: `List every valid package directly below dir, or below the configured
package directory. Invalid directories are skipped and reported with -v.

Example:
  botscript packages ./packages
  botscript packages --describe --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackages(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Describe, "describe", false, "include each package's module interface")

	return cmd
}

func runPackages(opts *PackagesOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		s, err := loadSettings(opts.RootOptions, cmd)
		if err != nil {
			return err
		}
		dir = s.PackagesDir
	}

	if _, err := os.Stat(dir); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "package directory not found: "+dir, err)
	}

	pkgs, warnings := pkgloader.Discover(dir)
	for _, w := range warnings {
		formatter.VerboseLog("skipped %s: %s", w.Path, w.Reason)
	}

	infos := make([]PackageInfo, 0, len(pkgs))
	for _, p := range pkgs {
		info := PackageInfo{Name: p.Name, Servers: p.Servers, Modules: []string{}}
		if info.Servers == nil {
			info.Servers = []string{}
		}
		for _, m := range p.Modules {
			info.Modules = append(info.Modules, m.Name)
		}
		if opts.Describe {
			info.Fields = json.RawMessage(p.Description())
		}
		infos = append(infos, info)
	}

	if opts.Format == "json" {
		return formatter.Success(infos)
	}

	if len(infos) == 0 {
		formatter.Line("No packages found.")
		return nil
	}
	for _, info := range infos {
		formatter.Line("%s", info.Name)
		if opts.Describe {
			formatter.Line("  servers: %v", info.Servers)
			formatter.Line("  modules: %v", info.Modules)
			formatter.Line("  interface: %s", info.Fields)
		}
	}
	return nil
}
