package cmd

import (
	"github.com/nxnxha/RnGM/rencontre"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and, if enabled, the admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := rencontre.New(cfg)
			if err != nil {
				log.Fatalf("error creating bot: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running bot: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
