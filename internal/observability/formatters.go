// Package observability provides logger construction and formatted progress
// output for the command-line client.
package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintEvent outputs a single progress line for a run event
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev pipeline.Event) {
	if ev.Stage == nil {
		switch ev.Status {
		case pipeline.StatusStarted:
			fmt.Fprintf(p.out, "▶ run %s started\n", ev.RunID)
		case pipeline.StatusComplete:
			fmt.Fprintf(p.out, "✅ run %s complete\n", ev.RunID)
		case pipeline.StatusError:
			fmt.Fprintf(p.out, "❌ run %s failed: %s\n", ev.RunID, ev.Error)
		}
		return
	}

	switch ev.Status {
	case pipeline.StatusRunning:
		fmt.Fprintf(p.out, "  … %s\n", *ev.Stage)
	case pipeline.StatusDone:
		fmt.Fprintf(p.out, "  ✓ %s (%s)\n", *ev.Stage, ev.Duration.Round(time.Millisecond))
	case pipeline.StatusSkipped:
		fmt.Fprintf(p.out, "  ↷ %s (cached)\n", *ev.Stage)
	case pipeline.StatusError:
		fmt.Fprintf(p.out, "  ✗ %s: %s\n", *ev.Stage, ev.Error)
	}
}

// PrintAnalysis outputs a human-readable summary of the product analysis
func (p *Printer) PrintAnalysis(raw json.RawMessage) {
	var a types.ProductAnalysis
	if len(raw) == 0 || json.Unmarshal(raw, &a) != nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Product:   %s\n", a.ProductName))
	sb.WriteString(fmt.Sprintf("Category:  %s\n", a.Category))
	sb.WriteString(fmt.Sprintf("Audience:  %s\n", a.TargetAudience))

	if len(a.KeyFeatures) > 0 {
		sb.WriteString("\nKey Features:\n")
		writeList(&sb, a.KeyFeatures, maxItemsToShow)
	}
	if len(a.SellingPoints) > 0 {
		sb.WriteString("\nSelling Points:\n")
		writeList(&sb, a.SellingPoints, 3)
	}

	p.printBox("PRODUCT ANALYSIS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintScript outputs the hook, beats and call to action
func (p *Printer) PrintScript(raw json.RawMessage) {
	var s types.Script
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Hook: %s\n", s.Hook))
	if len(s.Beats) > 0 {
		sb.WriteString("\nBeats:\n")
		writeList(&sb, s.Beats, maxItemsToShow)
	}
	sb.WriteString(fmt.Sprintf("\nCTA:  %s\n", s.CallToAction))
	if s.DurationSeconds > 0 {
		sb.WriteString(fmt.Sprintf("Length: %ds", s.DurationSeconds))
	}

	p.printBox("SCRIPT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintShots outputs the shot list
func (p *Printer) PrintShots(raw json.RawMessage) {
	var list types.ShotList
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil || len(list.Shots) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d shots, music: %s\n\n", len(list.Shots), list.MusicMood))

	count := min(len(list.Shots), maxItemsToShow)
	for i := 0; i < count; i++ {
		shot := list.Shots[i]
		sb.WriteString(fmt.Sprintf("#%d  %ds  %s\n", shot.Index, shot.DurationSeconds, shot.Description))
		if shot.Camera != "" {
			sb.WriteString(fmt.Sprintf("    Camera: %s\n", shot.Camera))
		}
	}
	if len(list.Shots) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more shots", len(list.Shots)-maxItemsToShow))
	}

	p.printBox("SHOT LIST", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintMetadata outputs the title, caption and hashtags
func (p *Printer) PrintMetadata(raw json.RawMessage) {
	var m types.VideoMetadata
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:   %s\n", m.Title))
	sb.WriteString(fmt.Sprintf("Caption: %s\n", m.Caption))
	if len(m.Hashtags) > 0 {
		sb.WriteString(fmt.Sprintf("Tags:    %s\n", strings.Join(m.Hashtags, " ")))
	}

	p.printBox("VIDEO METADATA", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRun outputs every stage payload of a finished run followed by a summary
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRun(run *pipeline.Run) {
	if run == nil {
		return
	}
	p.PrintAnalysis(run.Result(types.StageAnalysis))
	p.PrintScript(run.Result(types.StageScript))
	p.PrintShots(run.Result(types.StageComposition))
	p.PrintMetadata(run.Result(types.StageOptimization))

	status := "✅ complete"
	if stage, failed := run.FailedStage(); failed {
		status = fmt.Sprintf("❌ failed at %s: %s", stage, run.Stages[stage].Error)
	}
	fmt.Fprintf(p.out, "Run %s %s in %s", run.ID, status, run.TotalDuration().Round(time.Millisecond))
	if run.CacheHit {
		fmt.Fprint(p.out, " (analysis cached)")
	}
	fmt.Fprintln(p.out)
}

// PrintVariationEvent outputs a single progress line for a fan-out event
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintVariationEvent(ev variations.Event) {
	id := shortID(ev.VariationID)
	switch ev.Type {
	case variations.EventAnalysis:
		fmt.Fprintf(p.out, "▶ batch %s analysed\n", ev.BatchID)
	case variations.EventStarted:
		fmt.Fprintf(p.out, "  [%s] started\n", id)
	case variations.EventStage:
		if ev.Stage != nil && ev.Status == pipeline.StatusDone {
			fmt.Fprintf(p.out, "  [%s] ✓ %s\n", id, *ev.Stage)
		}
	case variations.EventPreview:
		if job, ok := ev.Data.(types.RenderJob); ok && job.Status == types.RenderStatusDone {
			fmt.Fprintf(p.out, "  [%s] preview %s\n", id, job.ResultURL)
		}
	case variations.EventComplete:
		fmt.Fprintf(p.out, "  [%s] ✅ complete\n", id)
	case variations.EventError:
		if ev.VariationID == "" {
			fmt.Fprintf(p.out, "❌ batch %s failed: %s\n", ev.BatchID, ev.Error)
			return
		}
		fmt.Fprintf(p.out, "  [%s] ❌ %s\n", id, ev.Error)
	case variations.EventAllComplete:
		fmt.Fprintf(p.out, "■ batch %s finished\n", ev.BatchID)
	}
}

// PrintVariations outputs one line per variation of a finished batch
func (p *Printer) PrintVariations(result *variations.Result) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d of %d variations complete", result.Succeeded(), len(result.Variations)))
	if result.CacheHit {
		sb.WriteString(" (analysis cached)")
	}
	sb.WriteString("\n\n")

	for _, v := range result.Variations {
		hook := ""
		var s types.Script
		if json.Unmarshal(v.Stages[types.StageScript].Result, &s) == nil {
			hook = s.Hook
		}
		sb.WriteString(fmt.Sprintf("%s  %s/%s\n", shortID(v.ID), v.Seed.HookStyle, v.Seed.ContentAngle))
		switch {
		case v.Status == variations.StatusFailed:
			sb.WriteString(fmt.Sprintf("    ✗ %s\n", v.Error))
		case hook != "":
			sb.WriteString(fmt.Sprintf("    %s\n", hook))
		}
	}

	p.printBox("VARIATIONS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRenderJobs outputs the final state of each render job
func (p *Printer) PrintRenderJobs(jobs []types.RenderJob) {
	if len(jobs) == 0 {
		return
	}

	var sb strings.Builder
	for _, job := range jobs {
		switch job.Status {
		case types.RenderStatusDone:
			sb.WriteString(fmt.Sprintf("#%d ✓ %s\n", job.ShotIndex, job.ResultURL))
		case types.RenderStatusError:
			sb.WriteString(fmt.Sprintf("#%d ✗ %s\n", job.ShotIndex, job.Error))
		default:
			sb.WriteString(fmt.Sprintf("#%d %s\n", job.ShotIndex, job.Status))
		}
	}

	p.printBox("RENDER JOBS", strings.TrimSuffix(sb.String(), "\n"))
}

func writeList(sb *strings.Builder, items []string, limit int) {
	count := min(len(items), limit)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > limit {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-limit))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
