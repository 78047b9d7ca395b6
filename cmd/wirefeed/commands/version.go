package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/wirefeed/internal/output"
	"github.com/jmylchreest/wirefeed/internal/version"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version information",
	Args:    cobra.NoArgs,
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("short") {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		}
		if f := viper.GetString("format"); f != "" && f != string(output.FormatTable) {
			format, err := output.ParseFormat(f)
			if err != nil {
				return err
			}
			return writeRecords(cmd, format, []version.Info{version.Get()})
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("short", false, "print only the version")
	versionCmd.Flags().String("format", "", "output format: json, yaml")
}
