package main

import (
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/datawire/rip/pkg/cliutil"
	"github.com/datawire/rip/pkg/installer"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/resolver"
)

func init() {
	var flags struct {
		IndexURL     string
		PlatformFile string
	}
	cmd := &cobra.Command{
		Use:   "install [flags] REQUIREMENT...",
		Short: "Resolve and install a set of PEP 508 requirements in to a venv layout",
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
			if err := printResolved(cmd, resolved); err != nil {
				return err
			}

			inst := &installer.Installer{Requested: requestedSetOf(args)}
			if err := inst.Install(ctx, e.db, resolved, plat); err != nil {
				return err
			}
			dlog.Infof(ctx, "installed %d package(s)", len(resolved))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.IndexURL, "index-url", pep503.PyPIBaseURL,
		"Base `URL` of the PEP 503 simple index to resolve against")
	cmd.Flags().StringVar(&flags.PlatformFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform, "+
			"instead of probing $PYTHON/python3/python on the host")
	argparser.AddCommand(cmd)
}
