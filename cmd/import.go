package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/position-tracker/internal/registry"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import subscriptions from a YAML seed file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		subs, err := registry.LoadSeedFile(importFile)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.ImportSubscriptions(ctx, subs)
		if err != nil {
			return eris.Wrap(err, "import subscriptions")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.Int("entries", len(subs)),
			zap.String("file", importFile),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to seed YAML file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
