// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// usage.go - Local usage history command.
//
// Command: usage [subcommand]
// Short:   Show or prune the local record of sends
//
// Subcommands:
//   show (default)            Totals for a window plus the latest sends
//   prune                     Delete rows older than a cutoff
//
// Examples:
//   domainchat usage
//   domainchat usage --since 7d --limit 20
//   domainchat usage prune --older-than 30d
//   domainchat usage --json
//
// Only counts and timings are stored, never prompt or answer text.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ananddd06/domainchat/internal/telemetry"
	"github.com/Ananddd06/domainchat/internal/util"
)

const (
	defaultUsageWindow = 24 * time.Hour
	defaultUsageLimit  = 10
	defaultPruneAge    = 30 * 24 * time.Hour
)

// UsageReport is the JSON form of "usage show".
type UsageReport struct {
	Ledger  string            `json:"ledger"`
	Since   time.Time         `json:"since"`
	Summary telemetry.Summary `json:"summary"`
	Recent  []telemetry.Usage `json:"recent"`
}

// HandleUsageCommand handles the "usage" command.
func HandleUsageCommand(args Args) error {
	p := args.Parser()

	a, err := newApp(args)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.ledger == nil {
		return &CommandError{
			Command: "usage",
			Action:  "open ledger",
			Reason:  "usage history is disabled or unavailable (set telemetry.enabled = true)",
		}
	}

	ctx := context.Background()
	now := time.Now()

	switch p.Subcommand() {
	case "", "show":
		window, err := parseAge(p.FlagOrDefault("since", ""), defaultUsageWindow)
		if err != nil {
			return NewValidationErrorWithExample("since", p.Flag("since"), err.Error(), "domainchat usage --since 7d")
		}
		limit := p.FlagIntOrDefault("limit", defaultUsageLimit)
		if limit < 0 {
			return NewValidationError("limit", strconv.Itoa(limit), "must not be negative")
		}

		since := now.Add(-window)
		summary, err := a.ledger.Summary(ctx, since)
		if err != nil {
			return &CommandError{Command: "usage", Action: "summarize", Reason: "query failed", Err: err}
		}
		recent, err := a.ledger.Recent(ctx, limit)
		if err != nil {
			return &CommandError{Command: "usage", Action: "list", Reason: "query failed", Err: err}
		}

		report := UsageReport{Ledger: a.ledger.Path(), Since: since, Summary: summary, Recent: recent}
		if args.JSON {
			return outputJSON(report)
		}
		printUsageReport(os.Stdout, report, window)
		return nil

	case "prune":
		age, err := parseAge(p.FlagOrDefault("older-than", ""), defaultPruneAge)
		if err != nil {
			return NewValidationErrorWithExample("older-than", p.Flag("older-than"), err.Error(), "domainchat usage prune --older-than 30d")
		}
		n, err := a.ledger.DeleteBefore(ctx, now.Add(-age))
		if err != nil {
			return &CommandError{Command: "usage", Action: "prune", Reason: "delete failed", Err: err}
		}
		if args.JSON {
			return outputJSON(map[string]int64{"deleted": n})
		}
		fmt.Printf("%s %d rows older than %s\n", SuccessStyle.Render("Deleted"), n, formatDuration(age))
		return nil

	default:
		return NewValidationError("subcommand", p.Subcommand(), "must be show or prune")
	}
}

// parseAge accepts Go durations plus a whole-day form such as "7d".
func parseAge(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("must be a positive duration such as 36h or 7d")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("must be a positive duration such as 36h or 7d")
	}
	return d, nil
}

func printUsageReport(w io.Writer, r UsageReport, window time.Duration) {
	s := r.Summary
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Usage (last %s)", formatDuration(window))))
	fmt.Fprintf(w, "  %s%d\n", RenderLabel("Sends:", 14), s.Sends)
	fmt.Fprintf(w, "  %s%d\n", RenderLabel("Failures:", 14), s.Failures)
	fmt.Fprintf(w, "  %s%d\n", RenderLabel("Incomplete:", 14), s.Incomplete)
	fmt.Fprintf(w, "  %s%d prompt / %d completion\n", RenderLabel("Tokens:", 14), s.PromptTokens, s.CompletionTokens)
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Avg latency:", 14), formatDurationShort(s.AvgDuration))

	if len(r.Recent) == 0 {
		fmt.Fprintf(w, "\n%s\n", DimStyle.Render("No sends recorded yet."))
	} else {
		fmt.Fprintf(w, "\n%s\n%s\n", TitleStyle.Render("Recent"), RenderSeparator(40))
		for _, u := range r.Recent {
			status := RenderStatus("ok")
			switch {
			case u.Outcome != "ok":
				status = RenderStatus("fail")
			case u.Incomplete:
				status = RenderStatus("incomplete")
			}
			fmt.Fprintf(w, "  %s %s %s %s %s\n",
				DimStyle.Render(util.PadWidth(formatAgo(u.CreatedAt), 16)),
				status,
				util.PadWidth(u.Mode, 9),
				util.PadWidth(formatDurationShort(u.Duration), 7),
				util.TruncateWidth(usageDetail(u), 50),
			)
		}
	}
	fmt.Fprintf(w, "\n%s %s\n", DimStyle.Render("Ledger:"), r.Ledger)
}

func usageDetail(u telemetry.Usage) string {
	if u.Outcome != "ok" {
		return u.Outcome
	}
	detail := fmt.Sprintf("%s, %d+%d tokens", u.Model, u.PromptTokens, u.CompletionTokens)
	if u.Attachments > 0 {
		detail += fmt.Sprintf(", %d files", u.Attachments)
	}
	return detail
}
