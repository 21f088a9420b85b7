package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyTagCmd = &cobra.Command{
	Use:   "tag <run-id> [tag...]",
	Short: "Replace the tags of a run; no tags clears them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryTag,
}

var historyNoteCmd = &cobra.Command{
	Use:   "note <run-id> <text>",
	Short: "Replace the notes of a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryNote,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete runs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	f := historyListCmd.Flags()
	f.String("status", "", "Only runs with this status (running|complete|failed)")
	f.String("search", "", "Match product category, script hook or tags")
	f.String("tag", "", "Only runs with this tag")
	f.String("from", "", "Only runs created at or after this RFC 3339 time")
	f.String("to", "", "Only runs created at or before this RFC 3339 time")
	f.Int("limit", history.DefaultLimit, "Maximum runs to list")
	f.Int("offset", 0, "Runs to skip")

	historyShowCmd.Flags().Bool("json", false, "Print the entry as JSON")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyTagCmd, historyNoteCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func listFilter(cmd *cobra.Command) (history.Filter, error) {
	f := cmd.Flags()
	var filter history.Filter
	filter.Status, _ = f.GetString("status")
	filter.Search, _ = f.GetString("search")
	filter.Tag, _ = f.GetString("tag")
	filter.Limit, _ = f.GetInt("limit")
	filter.Offset, _ = f.GetInt("offset")

	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v, _ := f.GetString(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("--%s: %w", name, err)
		}
		*dst = &t
	}
	return filter.Normalize(), nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	filter, err := listFilter(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	page, err := a.history.List(cmd.Context(), filter)
	if err != nil {
		return err
	}
	renderHistoryTable(cmd.OutOrStdout(), page, filter)
	return nil
}

func renderHistoryTable(w io.Writer, page *history.Page, filter history.Filter) {
	if len(page.Entries) == 0 {
		_, _ = fmt.Fprintf(w, "(0 of %d runs)\n", page.Total)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Created", "Status", "Product", "Hook", "Tags", "Cost"})
	for _, e := range page.Entries {
		t.AppendRow(table.Row{
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Status,
			productLabel(e),
			clip(e.ScriptHook, 40),
			strings.Join(e.Tags, ","),
			fmt.Sprintf("$%.4f", e.EstimatedCost),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d-%d of %d", filter.Offset+1, filter.Offset+len(page.Entries), page.Total), ""})
	t.Render()
}

func productLabel(e types.HistoryEntry) string {
	switch {
	case e.Product.Name != "" && e.ProductCategory != "":
		return e.Product.Name + " (" + e.ProductCategory + ")"
	case e.Product.Name != "":
		return e.Product.Name
	default:
		return e.ProductCategory
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	entry, err := a.history.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	}
	renderEntry(out, entry)
	return nil
}

func renderEntry(w io.Writer, e *types.HistoryEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run " + e.ID)
	t.AppendRows([]table.Row{
		{"Status", e.Status},
		{"Product", productLabel(*e)},
		{"Hook", e.ScriptHook},
		{"Created", e.CreatedAt.Local().Format(time.RFC3339)},
		{"Duration", e.TotalDuration.Round(time.Millisecond).String()},
		{"Cost", fmt.Sprintf("$%.4f", e.EstimatedCost)},
		{"Tags", strings.Join(e.Tags, ", ")},
		{"Notes", e.Notes},
	})
	if e.ParentRunID != nil {
		t.AppendRow(table.Row{"Retry of", fmt.Sprintf("%s (#%d)", *e.ParentRunID, e.RetryCount)})
	}
	t.AppendSeparator()
	for _, stage := range types.AllStages() {
		rec := e.Stages[stage]
		detail := string(rec.Status)
		if rec.Duration > 0 {
			detail += " in " + rec.Duration.Round(time.Millisecond).String()
		}
		if rec.Error != "" {
			detail += ": " + rec.Error
		}
		t.AppendRow(table.Row{stage.String(), detail})
	}
	t.Render()
}

func runHistoryTag(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	tags := history.NormalizeTags(args[1:])
	if err := a.history.SetTags(cmd.Context(), args[0], tags); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s tags: %s\n", args[0], strings.Join(tags, ", "))
	return nil
}

func runHistoryNote(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.history.SetNotes(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s notes updated\n", args[0])
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.history.Delete(cmd.Context(), args...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d runs\n", n, len(args))
	return nil
}
