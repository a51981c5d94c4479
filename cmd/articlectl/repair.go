package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankforge/api/internal/generation"
	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/repair"
	"github.com/rankforge/api/internal/store"
)

func newRepairCmd() *cobra.Command {
	var brand, brandURL, sitePath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "repair <file.md>",
		Short: "Run the repair pipeline on a markdown file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var site store.SiteImport
			if sitePath != "" {
				if site, err = readSiteFile(sitePath); err != nil {
					return err
				}
			}
			gctx := generationContext(site)
			if brand != "" {
				gctx.BrandName = brand
			}
			if brandURL != "" {
				gctx.BrandURL = brandURL
			}

			log := logger.Nop()
			if verbose {
				if log, err = logger.New("development", "debug"); err != nil {
					return err
				}
				defer log.Sync()
			}

			out := repair.New(log).Run(string(data), &repair.Context{
				BrandName: gctx.BrandName,
				BrandURL:  gctx.BrandURL,
				Links:     generation.ConsolidateLinks(gctx),
				Now:       time.Now(),
			})
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVar(&brand, "brand", "", "brand name")
	cmd.Flags().StringVar(&brandURL, "brand-url", "", "brand site URL")
	cmd.Flags().StringVar(&sitePath, "site", "", "site YAML providing link candidates")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each repair pass")

	return cmd
}
