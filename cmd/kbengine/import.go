package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <package.zip>",
	Short: "Apply a package written by another installation",
	Long: `import verifies every checksum in the package before applying any
row, merges each row by last-writer-wins arbitration against the local
store, and records a conflict ledger entry for every row the import loses.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		result, err := eng.Import(rootCtx, args[0])
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}

		fmt.Printf("applied package %s from %s: %d problems, %d tags, %d problemTags, %d attachments\n",
			result.Manifest.PackageID, result.Manifest.ExporterInstanceID,
			result.Manifest.RecordCounts.Problems, result.Manifest.RecordCounts.Tags,
			result.Manifest.RecordCounts.ProblemTags, result.Manifest.RecordCounts.Attachments)
		return nil
	},
}
