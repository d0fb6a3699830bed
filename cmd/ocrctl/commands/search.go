package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find stored pages similar to a text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the stored status of a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of pages")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd, statusCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := stores.SearchSimilarPages(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no matching pages")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  %s p.%d  (%s, %.2f)  %s\n",
			r.SimilarityScore, r.Source, r.Page, r.Method, r.Confidence, r.DocumentID)
		if text := firstLine(r.Text); text != "" {
			fmt.Fprintf(out, "       %s\n", text)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := stores.GetJobByID(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 100 {
		s = string(r[:100]) + "..."
	}
	return s
}
