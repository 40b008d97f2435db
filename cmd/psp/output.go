package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parkslope/psp/internal/ingest"
	"github.com/parkslope/psp/internal/models"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printFetchResult(w io.Writer, r *ingest.FetchResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, r)
	}

	verb := "Inserted"
	if r.DryRun {
		verb = "Would insert"
	}
	fmt.Fprintf(w, "Fetched %d messages. %s %d new.\n", r.Fetched, verb, r.Inserted)
	switch {
	case r.Interrupted:
		fmt.Fprintln(w, "Interrupted before catching up.")
	case r.RateLimited:
		fmt.Fprintln(w, "Stopped early: rate limited by groups.io.")
	case r.CaughtUp:
		fmt.Fprintln(w, "Caught up with stored messages.")
	}
	return nil
}

func printBackfillResult(w io.Writer, r *ingest.BackfillResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, r)
	}

	verb := "inserted"
	if r.DryRun {
		verb = "would insert"
	}
	fmt.Fprintf(w, "Backfill: %d pages, %d fetched, %d %s.\n", r.Pages, r.Fetched, r.Inserted, verb)
	switch {
	case r.Complete:
		fmt.Fprintln(w, "Backfill complete.")
	case r.Interrupted:
		fmt.Fprintf(w, "Interrupted. Next run resumes at page token %s.\n", formatID(r.NextPageToken))
	default:
		fmt.Fprintf(w, "Not complete yet. Next page token: %s.\n", formatID(r.NextPageToken))
	}
	return nil
}

func printStatus(w io.Writer, s *models.BackfillStatus) {
	fmt.Fprintln(w, "Backfill status")
	fmt.Fprintf(w, "  Messages stored:  %d\n", s.MessagesCount)
	fmt.Fprintf(w, "  Oldest message:   %s\n", formatID(s.OldestMessageID))
	fmt.Fprintf(w, "  Newest message:   %s\n", formatID(s.NewestMessageID))
	fmt.Fprintf(w, "  Page token:       %s\n", formatID(s.BackfillPageToken))
	fmt.Fprintf(w, "  Complete:         %t\n", s.IsComplete)
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed at:     %s\n", formatTime(s.CompletedAt))
	}
	fmt.Fprintf(w, "  Last fetch:       %s\n", formatTime(s.LastFetchAt))
}

func printStats(w io.Writer, s *models.Stats) {
	m := s.Messages
	fmt.Fprintln(w, "Messages")
	fmt.Fprintf(w, "  Total:             %d\n", m.TotalCount)
	fmt.Fprintf(w, "  ID range:          %s - %s\n", formatID(m.MinID), formatID(m.MaxID))
	fmt.Fprintf(w, "  Date range:        %s - %s\n", formatTime(m.OldestDate), formatTime(m.NewestDate))
	fmt.Fprintf(w, "  Last 24 hours:     %d\n", m.Last24Hours)
	fmt.Fprintf(w, "  Last 7 days:       %d\n", m.Last7Days)
	fmt.Fprintf(w, "  Originals/replies: %d/%d\n", m.Originals, m.Replies)
	fmt.Fprintf(w, "  With attachments:  %d\n", m.WithAttachments)

	fmt.Fprintf(w, "Hashtags (%d unique)\n", s.UniqueHashtags)
	for _, h := range s.Hashtags {
		fmt.Fprintf(w, "  #%-20s %d\n", h.Name, h.Count)
	}

	fmt.Fprintln(w, "Categories")
	for _, name := range []string{"forsale", "forfree", "iso"} {
		fmt.Fprintf(w, "  %-20s %d\n", name, s.Categories[name])
	}

	fmt.Fprintln(w, "Sync")
	fmt.Fprintf(w, "  Backfill complete: %t\n", s.Sync.IsComplete)
	fmt.Fprintf(w, "  Last fetch:        %s\n", formatTime(s.Sync.LastFetchAt))
}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
