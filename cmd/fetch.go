package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fetchSearch string
	fetchLimit  int
	fetchOut    string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [ad-id]",
	Short: "Fetch a listing or category search from Blocket as JSON",
	Long:  "Fetches a single listing by ad id, or the newest listings of a category with --search, and writes them as JSON to --out or stdout. Nothing is stored.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src := initSource()

		if fetchSearch != "" {
			if len(args) > 0 {
				return eris.New("fetch: pass either an ad id or --search, not both")
			}
			if fetchLimit < 1 || fetchLimit > cfg.Blocket.MaxSearchLimit {
				return eris.Errorf("fetch: limit must be between 1 and %d", cfg.Blocket.MaxSearchLimit)
			}
			category := cfg.ResolveCategory(fetchSearch)
			res, err := src.Search(ctx, category, fetchLimit)
			if err != nil {
				return eris.Wrapf(err, "fetch: search category %s", category)
			}
			zap.L().Info("search fetched",
				zap.String("category", category),
				zap.Int("listings", len(res.Listings)),
			)
			return writeJSONFile(fetchOut, res.Listings)
		}

		if len(args) == 0 {
			return eris.New("fetch: ad id or --search is required")
		}
		listing, err := src.Get(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "fetch: ad %s", args[0])
		}
		if listing == nil {
			return eris.Errorf("fetch: ad %s not found", args[0])
		}
		return writeJSONFile(fetchOut, listing)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSearch, "search", "", "category id or name to search")
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 10, "number of listings to fetch with --search")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(fetchCmd)
}
