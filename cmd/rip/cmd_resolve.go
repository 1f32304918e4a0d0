package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datawire/rip/pkg/cliutil"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/resolver"
)

func init() {
	var flags struct {
		IndexURL     string
		PlatformFile string
	}
	cmd := &cobra.Command{
		Use:   "resolve [flags] REQUIREMENT...",
		Short: "Resolve a set of PEP 508 requirements against a simple index, without installing",
		Args:  cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			plat, err := targetPlatform(ctx, flags.PlatformFile)
			if err != nil {
				return err
			}

			e, err := newEnv(flags.IndexURL, plat)
			if err != nil {
				return err
			}

			r := &resolver.Resolver{
				DB:               e.db,
				Platform:         plat,
				PreReleasePolicy: resolver.ExcludePreReleasesUnlessOnlyOption,
				SDistPolicy:      resolver.PreferWheels,
			}
			resolved, err := r.Resolve(ctx, args)
			if err != nil {
				return err
			}

			return printResolved(cmd, resolved)
		},
	}
	cmd.Flags().StringVar(&flags.IndexURL, "index-url", pep503.PyPIBaseURL,
		"Base `URL` of the PEP 503 simple index to resolve against")
	cmd.Flags().StringVar(&flags.PlatformFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform, "+
			"instead of probing $PYTHON/python3/python on the host")
	argparser.AddCommand(cmd)
}

// targetPlatform picks --platform-file when given, else probes a live host interpreter with
// probePlatform.
func targetPlatform(ctx context.Context, platformFile string) (python.Platform, error) {
	if platformFile != "" {
		return platformFromFile(platformFile)
	}
	return probePlatform(ctx, interpreter())
}

// printResolved prints the resolved environment as a tab-separated Name/Version table, per
// spec.md §6's "Resolved environment:" output contract.
func printResolved(cmd *cobra.Command, resolved []resolver.Resolved) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Resolved environment:")
	for _, r := range resolved {
		if _, err := fmt.Fprintf(out, "%s\t%s\n", r.Name.String(), r.Version.String()); err != nil {
			return err
		}
	}
	return nil
}
