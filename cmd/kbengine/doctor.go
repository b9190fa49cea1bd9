package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kbengine/kbengine/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose and repair local store issues",
}

var doctorOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List blob-store files no attachment row references",
	Long: `orphans walks every blob on disk and reports digests that no
attachment row, deleted or not, still points at. It never deletes
anything; blob garbage collection is a manual, out-of-band concern.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		var orphanCount int
		var orphanBytes int64
		walkErr := eng.Blobs.Walk(func(hash string, size int64) error {
			inUse, err := eng.Store.ContentHashInUse(rootCtx, hash)
			if err != nil {
				return err
			}
			if inUse {
				return nil
			}
			orphanCount++
			orphanBytes += size
			fmt.Printf("%s  %d bytes\n", hash, size)
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("doctor orphans: %w", walkErr)
		}
		fmt.Printf("%d orphaned blob(s), %d bytes total\n", orphanCount, orphanBytes)
		return nil
	},
}

var (
	purgeTags        []string
	purgeProfession  string
	purgeUpdatedFrom string
	purgeUpdatedTo   string
	purgeIncludeSoft bool
	purgeYes         bool
)

var doctorPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove problems matching a filter",
	Long: `purge previews, then on confirmation permanently deletes, every
problem matching the filter along with its tag links, attachments, and
conflict ledger entries. This is the gated hard-delete operation; it
bypasses soft-delete entirely and cannot be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildHardDeleteFilter()
		if err != nil {
			return err
		}

		eng, err := openEngine(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		n, err := eng.PreviewHardDelete(rootCtx, filter)
		if err != nil {
			return fmt.Errorf("doctor purge: preview: %w", err)
		}
		if n == 0 {
			fmt.Println("no problems match this filter")
			return nil
		}
		fmt.Printf("this will permanently delete %d problem(s) and their tags, attachments, and conflict records\n", n)

		if !purgeYes && !confirm() {
			fmt.Println("aborted")
			return nil
		}

		deleted, err := eng.HardDeleteProblems(rootCtx, filter)
		if err != nil {
			return fmt.Errorf("doctor purge: %w", err)
		}
		fmt.Printf("deleted %d problem(s)\n", deleted)
		return nil
	},
}

func buildHardDeleteFilter() (types.HardDeleteFilter, error) {
	filter := types.HardDeleteFilter{
		TagIDs:             purgeTags,
		IncludeSoftDeleted: purgeIncludeSoft,
		Profession:         types.ProfessionFilter{Mode: types.ProfessionAll},
	}
	switch purgeProfession {
	case "", "all":
		filter.Profession.Mode = types.ProfessionAll
	case "none":
		filter.Profession.Mode = types.ProfessionUnassigned
	default:
		filter.Profession.Mode = types.ProfessionSpecific
		filter.Profession.ProfessionID = purgeProfession
	}

	if purgeUpdatedFrom != "" {
		t, err := time.Parse("2006-01-02", purgeUpdatedFrom)
		if err != nil {
			return filter, fmt.Errorf("doctor purge: --updated-from: %w", err)
		}
		filter.UpdatedFromUtc = &t
	}
	if purgeUpdatedTo != "" {
		t, err := time.Parse("2006-01-02", purgeUpdatedTo)
		if err != nil {
			return filter, fmt.Errorf("doctor purge: --updated-to: %w", err)
		}
		filter.UpdatedToUtc = &t
	}
	return filter, nil
}

// confirm prompts for a literal "yes" on a real terminal, and refuses to
// proceed silently when stdin is not a terminal (a piped or scripted
// invocation must pass --yes explicitly).
func confirm() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "doctor purge: stdin is not a terminal; pass --yes to confirm non-interactively")
		return false
	}
	fmt.Print("type \"yes\" to proceed: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}

func init() {
	doctorPurgeCmd.Flags().StringSliceVar(&purgeTags, "tag", nil, "restrict to problems carrying this tag id (repeatable)")
	doctorPurgeCmd.Flags().StringVar(&purgeProfession, "profession", "all", `"all", "none", or a profession id`)
	doctorPurgeCmd.Flags().StringVar(&purgeUpdatedFrom, "updated-from", "", "only problems updated on or after this date (YYYY-MM-DD)")
	doctorPurgeCmd.Flags().StringVar(&purgeUpdatedTo, "updated-to", "", "only problems updated on or before this date (YYYY-MM-DD)")
	doctorPurgeCmd.Flags().BoolVar(&purgeIncludeSoft, "include-deleted", false, "also match already soft-deleted problems")
	doctorPurgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "skip the interactive confirmation prompt")

	doctorCmd.AddCommand(doctorOrphansCmd)
	doctorCmd.AddCommand(doctorPurgeCmd)
}
