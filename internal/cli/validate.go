package cli

import (
	"errors"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/botscript/internal/config"
	"github.com/roach88/botscript/internal/pkgloader"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Packages string
}

// FileValidation is the validation outcome of one configuration file.
type FileValidation struct {
	File   string            `json:"file"`
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a configuration file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <config.json>...",
		Short: "Validate bot configurations without loading them",
		Long: `Check configuration blobs against the configuration schema.

With --packages, module values are also checked against the interface
the bot's package declares: sliders, checkboxes and dropdowns must hold
an accepted value, and every module's active flag must be 0 or 1.

Exit codes:
  0 - All configurations are valid
  1 - One or more configurations are invalid
  2 - Command error (unreadable file, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Packages, "packages", "", "package directory to check module values against")

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var resolver pkgloader.Resolver
	if opts.Packages != "" {
		resolver = pkgloader.NewDirResolver(opts.Packages)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to read "+path, err)
		}

		fv := validateConfiguration(path, data, resolver)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
		formatter.VerboseLog("validated %s: %d issue(s)", path, len(fv.Errors))
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, fv := range result.Files {
			if fv.Valid {
				formatter.Line("✓ %s", fv.File)
				continue
			}
			formatter.Line("✗ %s", fv.File)
			for _, issue := range fv.Errors {
				formatter.Line("  [%s] %s", issue.Code, issue.Message)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// validateConfiguration parses data and, when resolver is set, checks its
// module values against the package interface.
func validateConfiguration(path string, data []byte, resolver pkgloader.Resolver) FileValidation {
	fv := FileValidation{File: path, Valid: true}
	add := func(code, field, message string) {
		fv.Valid = false
		fv.Errors = append(fv.Errors, ValidationIssue{Code: code, Field: field, Message: message})
	}

	cfg, err := config.Parse(data)
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			add(ErrCodeInvalidConfig, ve.Field, ve.Error())
		} else {
			add(ErrCodeInvalidConfig, "", err.Error())
		}
		return fv
	}
	if resolver == nil {
		return fv
	}

	pkg, err := resolver.Resolve(cfg.Package)
	if err != nil {
		add(ErrCodeInvalidPackage, "package", err.Error())
		return fv
	}

	for _, module := range cfg.Modules() {
		fields, known := moduleFields(pkg, module)
		// Modules the package does not declare are kept as plain values.
		if !known {
			continue
		}
		for key, value := range cfg.Module(module) {
			field := "modules." + module + "." + key
			if key == config.KeyActive {
				if err := pkgloader.ValidateFlag(key, value); err != nil {
					add(ErrCodeInvalidValue, field, err.Error())
				}
				continue
			}
			f, ok := fields[key]
			if !ok {
				continue
			}
			if err := f.Validate(value); err != nil {
				add(ErrCodeInvalidValue, field, err.Error())
			}
		}
	}
	sortIssues(fv.Errors)
	return fv
}

// moduleFields returns the declared fields of module by name.
func moduleFields(pkg *pkgloader.Package, module string) (map[string]pkgloader.Field, bool) {
	var list []pkgloader.Field
	if module == config.ModuleBase {
		list = pkgloader.BaseFields()
	} else {
		m, ok := pkg.Module(module)
		if !ok {
			return nil, false
		}
		list = m.Fields
	}

	fields := make(map[string]pkgloader.Field, len(list))
	for _, f := range list {
		fields[f.Name] = f
	}
	return fields, true
}

func sortIssues(issues []ValidationIssue) {
	slices.SortFunc(issues, func(a, b ValidationIssue) int {
		return strings.Compare(a.Field, b.Field)
	})
}
