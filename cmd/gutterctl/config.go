package gutterctl

import (
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/nodestream/guttering/internal/guttering"
	"github.com/spf13/cobra"
)

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "inspect buffering configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "parse a buffering.conf file and print the resolved configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := osfs.New("")
		cfg := guttering.ConfigFromFile(fs, args[0])
		fmt.Println(cfg.String())
		return nil
	},
}
