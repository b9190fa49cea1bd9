package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbengine/kbengine/internal/types"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve conflicts recorded by the merge engine",
}

var conflictsListLimit int

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		conflicts, err := eng.Conflict.List(rootCtx, conflictsListLimit)
		if err != nil {
			return fmt.Errorf("conflicts list: %w", err)
		}
		if len(conflicts) == 0 {
			fmt.Println("no unresolved conflicts")
			return nil
		}
		for _, c := range conflicts {
			fmt.Printf("%s  %-12s entity=%s  local=%s  imported=%s\n",
				c.ID, c.EntityType, c.EntityID,
				c.LocalUpdatedAtUtc.Format("2006-01-02T15:04:05Z"),
				c.ImportedUpdatedAtUtc.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show both sides of one conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		c, err := eng.Conflict.Detail(rootCtx, args[0])
		if err != nil {
			return fmt.Errorf("conflicts show: %w", err)
		}
		fmt.Printf("id:         %s\n", c.ID)
		fmt.Printf("entityType: %s\n", c.EntityType)
		fmt.Printf("entityId:   %s\n", c.EntityID)
		fmt.Printf("local:      %s\n", c.LocalJSON)
		fmt.Printf("imported:   %s\n", c.ImportedJSON)
		if c.ResolvedAtUtc != nil {
			fmt.Printf("resolved:   %s by %s (%s)\n", c.ResolvedAtUtc.Format("2006-01-02T15:04:05Z"), c.ResolvedBy, c.Resolution)
		}
		return nil
	},
}

var conflictsResolveBy string

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <keep-local|use-imported>",
	Short: "Resolve a conflict, optionally re-applying the imported value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resolution types.Resolution
		switch args[1] {
		case "keep-local":
			resolution = types.ResolutionKeepLocal
		case "use-imported":
			resolution = types.ResolutionUseImported
		default:
			return fmt.Errorf("conflicts resolve: second argument must be keep-local or use-imported")
		}
		if conflictsResolveBy == "" {
			if host, err := os.Hostname(); err == nil {
				conflictsResolveBy = host
			} else {
				conflictsResolveBy = "unknown"
			}
		}

		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		if err := eng.Conflict.Resolve(rootCtx, args[0], resolution, conflictsResolveBy); err != nil {
			return fmt.Errorf("conflicts resolve: %w", err)
		}
		fmt.Printf("resolved %s as %s\n", args[0], resolution)
		return nil
	},
}

func init() {
	conflictsListCmd.Flags().IntVar(&conflictsListLimit, "limit", 50, "maximum conflicts to list")
	conflictsResolveCmd.Flags().StringVar(&conflictsResolveBy, "by", "", "operator identity recorded on the resolution (defaults to hostname)")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
}
