package main

import (
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/datawire/rip/pkg/cliutil"
	"github.com/datawire/rip/pkg/uninstaller"
)

func init() {
	var flags struct {
		PlatformFile string
	}
	cmd := &cobra.Command{
		Use:   "uninstall [flags] DIST_INFO_DIR...",
		Short: "Remove an installed distribution, driven by its RECORD file",
		Long: "Remove one or more installed distributions, given their `.dist-info` " +
			"directory names (e.g. \"certifi-2023.7.22.dist-info\"), relative to " +
			"the target venv's site-packages.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			plat, err := targetPlatform(ctx, flags.PlatformFile)
			if err != nil {
				return err
			}

			u := &uninstaller.Uninstaller{Root: plat.Scheme.PureLib}
			for _, distInfoDir := range args {
				if err := u.Uninstall(ctx, distInfoDir); err != nil {
					return fmt.Errorf("uninstall %s: %w", distInfoDir, err)
				}
				dlog.Infof(ctx, "uninstalled %s", distInfoDir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.PlatformFile, "platform-file", "",
		"Read `IN_YAML_FILE` to determine details about the target platform, "+
			"instead of probing $PYTHON/python3/python on the host")
	argparser.AddCommand(cmd)
}
