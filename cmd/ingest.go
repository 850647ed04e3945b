package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	ingestCategory string
	ingestAd       string
	ingestLimit    int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch listings and store them as posts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if (ingestCategory == "") == (ingestAd == "") {
			return eris.New("ingest: exactly one of --category or --ad is required")
		}

		env, err := initEnv(ctx, "store", envNeeds{})
		if err != nil {
			return err
		}
		defer env.Close()
		eng := env.ingestEngine()

		if ingestAd != "" {
			post, err := eng.IngestAd(ctx, ingestAd)
			if err != nil {
				return eris.Wrap(err, "ingest ad")
			}
			if post == nil {
				return eris.Errorf("ingest: ad %s not found", ingestAd)
			}
			zap.L().Info("ad ingested", zap.String("ad_id", post.AdID), zap.String("title", post.Title))
			return nil
		}

		category := cfg.ResolveCategory(ingestCategory)
		res, err := eng.IngestCategory(ctx, category, ingestLimit)
		if err != nil {
			return eris.Wrap(err, "ingest category")
		}
		zap.L().Info("ingest complete",
			zap.String("category", category),
			zap.Int("seen", res.Seen),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "category id or name to ingest")
	ingestCmd.Flags().StringVar(&ingestAd, "ad", "", "single ad id to ingest")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 20, "number of listings to ingest")
	rootCmd.AddCommand(ingestCmd)
}
