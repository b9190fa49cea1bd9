package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbengine/kbengine/internal/search"
	"github.com/kbengine/kbengine/internal/types"
)

var (
	searchTags         []string
	searchProfession   string
	searchLimit        int
	searchOffset       int
	searchJSON         bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search problems by text query",
	Long: `Search problem title, symptom, root cause, solution, and environment
across the local store, ranked by weighted field hits.

Examples:
  kbengine search "nil pointer"
  kbengine search "timeout" --tag infra --limit 5
  kbengine search "" --profession backend
  kbengine search "" --profession none`,
	Run: func(cmd *cobra.Command, args []string) {
		query := strings.Join(args, " ")

		eng, err := openEngine(rootCtx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer func() { _ = eng.Close() }()

		profession := types.ProfessionFilter{Mode: types.ProfessionAll}
		switch searchProfession {
		case "", "all":
			profession.Mode = types.ProfessionAll
		case "none":
			profession.Mode = types.ProfessionUnassigned
		default:
			profession.Mode = types.ProfessionSpecific
			profession.ProfessionID = searchProfession
		}

		hits, total, err := eng.Search.Search(rootCtx, search.Query{
			Text:       query,
			TagIDs:     searchTags,
			Profession: profession,
			Limit:      searchLimit,
			Offset:     searchOffset,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("search: %w", err))
			os.Exit(1)
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(struct {
				Total int               `json:"total"`
				Hits  []types.SearchHit `json:"hits"`
			}{Total: total, Hits: hits})
			return
		}

		fmt.Printf("%d total match(es)\n", total)
		for _, h := range hits {
			fmt.Printf("%-8s score=%-4d %s\n", h.Problem.ID[:8], h.Score, h.Problem.Title)
			if h.Snippet != "" {
				fmt.Printf("         %s\n", h.Snippet)
			}
		}
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchTags, "tag", nil, "restrict to problems carrying this tag id (repeatable)")
	searchCmd.Flags().StringVar(&searchProfession, "profession", "all", `"all", "none", or a profession id`)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum hits to return")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "pagination offset")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit results as JSON")
}
