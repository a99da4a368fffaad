package cmd

import (
	"github.com/Paradise-Lost-Developer-Team/Recap-Samurai/recapsamurai"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Recap Samurai bot and API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := recapsamurai.New(cfg)
			if err != nil {
				log.Fatalf("error creating recapsamurai: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running recapsamurai: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
