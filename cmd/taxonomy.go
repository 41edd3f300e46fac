package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sensitivity-cli/internal/model"
	"github.com/sells-group/sensitivity-cli/internal/retrieval"
	"github.com/sells-group/sensitivity-cli/internal/taxonomy"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect the sensitivity taxonomy",
}

// -- taxonomy stats --

var taxonomyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show counts for the loaded taxonomy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		holder := taxonomy.NewHolder(taxonomy.WithMinKeywordLen(cfg.Taxonomy.MinKeywordLen))
		ix, err := holder.ReloadFile(cfg.Taxonomy.Path)
		if err != nil {
			return eris.Wrap(err, "taxonomy stats")
		}
		formatTaxonomyStats(os.Stdout, cfg.Taxonomy.Path, ix.Stats())
		return nil
	},
}

// -- taxonomy match --

var taxonomyMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Show the retrieval evidence for a column or table",
	Long:  "Matches one column (--column) or every column of a table description (--query) against the taxonomy and prints the evidence block the reasoner would receive.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		queryPath, _ := cmd.Flags().GetString("query")
		column, _ := cmd.Flags().GetString("column")
		comment, _ := cmd.Flags().GetString("comment")
		samples, _ := cmd.Flags().GetStringSlice("sample")

		_, fusion, err := initRetrieval()
		if err != nil {
			return err
		}

		var results []*model.EnhancedMatchResult
		if column != "" {
			res, err := fusion.Match(ctx, model.ColumnQuery{
				Name:         column,
				Comment:      comment,
				Samples:      samples,
				TableColumns: []string{column},
			}, taxonomy.RunContext{TableColumns: []string{column}})
			if err != nil {
				return eris.Wrap(err, "taxonomy match")
			}
			results = append(results, res)
		} else {
			query, err := readQuery(queryPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			tq, err := model.ParseTableQuery(query)
			if err != nil {
				return eris.Wrap(err, "taxonomy match")
			}
			results, err = fusion.MatchTable(ctx, tq)
			if err != nil {
				return eris.Wrap(err, "taxonomy match")
			}
		}

		formatMatchSummary(os.Stderr, results)
		_, _ = fmt.Fprint(os.Stdout, retrieval.FormatResults(results))
		return nil
	},
}

func init() {
	taxonomyMatchCmd.Flags().String("query", "-", "file holding the table description JSON (- for stdin)")
	taxonomyMatchCmd.Flags().String("column", "", "match a single column by name instead of a table")
	taxonomyMatchCmd.Flags().String("comment", "", "column comment (with --column)")
	taxonomyMatchCmd.Flags().StringSlice("sample", nil, "sample value (with --column, repeatable)")

	taxonomyCmd.AddCommand(taxonomyStatsCmd)
	taxonomyCmd.AddCommand(taxonomyMatchCmd)
	rootCmd.AddCommand(taxonomyCmd)
}

// formatTaxonomyStats writes index counts to w.
func formatTaxonomyStats(out io.Writer, path string, st taxonomy.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Records:\t%d\n", st.Records)
	_, _ = fmt.Fprintf(w, "Field names:\t%d\n", st.FieldNames)
	_, _ = fmt.Fprintf(w, "Keywords:\t%d\n", st.Keywords)
	_, _ = fmt.Fprintf(w, "Regex patterns:\t%d\n", st.RegexPatterns)
	_ = w.Flush()
}

// formatMatchSummary writes one line per column: name, method and level.
func formatMatchSummary(out io.Writer, results []*model.EnhancedMatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLUMN\tMETHOD\tRECORD\tLEVEL")
	_, _ = fmt.Fprintln(w, "------\t------\t------\t-----")
	for _, r := range results {
		method, record, level := "-", "-", "-"
		if r.Matched() {
			method = string(r.MatchMethod)
			record = r.BestMatch.ID
			if r.DeterminedLevel != nil {
				level = fmt.Sprintf("L%d", *r.DeterminedLevel)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ColumnName, method, record, level)
	}
	_ = w.Flush()
}
