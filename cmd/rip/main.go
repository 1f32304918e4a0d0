// Command rip is a PEP 503 "simple"-index-driven Python package installer and dependency
// resolver: it fetches wheels/sdists/source trees, extracts metadata, solves PEP 440/508
// constraints, and installs the result into a venv layout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/datawire/rip/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "rip {[flags]|SUBCOMMAND...}",
	Short: "Resolve and install Python packages from a PEP 503 simple index",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	// PersistentPreRunE runs after flag parsing but before any subcommand's RunE, so this is
	// where -v/--verbose (only known once flags are parsed) gets to influence logging.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := logrus.New()
		logger.SetLevel(logrus.InfoLevel)
		if verbose || os.Getenv("RIP_LOG") == "debug" {
			logger.SetLevel(logrus.DebugLevel)
		}
		cmd.SetContext(dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger)))
		return nil
	},

	SilenceErrors: true, // main() handles this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc handles it
}

var verbose bool

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log at debug level")
}

func main() {
	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
