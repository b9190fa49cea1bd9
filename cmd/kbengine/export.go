package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbengine/kbengine/internal/pkgcodec"
)

var (
	exportOutput           string
	exportRemoteInstanceID string
	exportIncremental      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a package of local changes for another installation",
	Long: `export writes a ZIP package to --out containing every row,
soft-deleted ones included (the default), or only rows changed since the
last export to --remote-instance-id (--incremental).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOutput == "" {
			return fmt.Errorf("export: --out is required")
		}
		if exportIncremental && exportRemoteInstanceID == "" {
			return fmt.Errorf("export: --incremental requires --remote-instance-id")
		}

		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		mode := pkgcodec.ModeFull
		if exportIncremental {
			mode = pkgcodec.ModeIncremental
		}

		result, err := eng.Export(rootCtx, mode, exportRemoteInstanceID, exportOutput)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}

		fmt.Printf("wrote %s (package %s): %d problems, %d tags, %d problemTags, %d attachments\n",
			exportOutput, result.PackageID,
			result.Manifest.RecordCounts.Problems, result.Manifest.RecordCounts.Tags,
			result.Manifest.RecordCounts.ProblemTags, result.Manifest.RecordCounts.Attachments)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "out", "", "output package path (required)")
	exportCmd.Flags().StringVar(&exportRemoteInstanceID, "remote-instance-id", "", "peer instance id, required for --incremental and used to advance its watermark")
	exportCmd.Flags().BoolVar(&exportIncremental, "incremental", false, "export only rows changed since the last export to --remote-instance-id")
}
