// Package report writes ranking results for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/cavstudio/internal/cav"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/search"
)

// Format is the output format of a ranking report.
type Format string

const (
	// FormatText is human-readable text (default).
	FormatText Format = "text"
	// FormatJSON is structured JSON for machine consumption.
	FormatJSON Format = "json"
	// FormatXLSX is a spreadsheet with a ranking sheet and a stats sheet.
	FormatXLSX Format = "xlsx"
)

// Sheet names of the XLSX report.
const (
	RankingSheet = "ranking"
	StatsSheet   = "stats"
)

// ParseFormat maps a flag value to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q", models.ErrInvalidInput, s)
	}
}

// Ranking is a ranked image set together with the CAV that ranked it.
type Ranking struct {
	CAVID   string               `json:"cav_id"`
	Layer   models.LayerID       `json:"model_layer"`
	SetName string               `json:"search_set"`
	Summary string               `json:"cav_string,omitempty"`
	Images  []search.RankedImage `json:"results"`
	Stats   *cav.Stats           `json:"stats,omitempty"`
}

// FromRanking builds a report from a ranking. Stats cover every score of
// the set; they are omitted when the set was empty.
func FromRanking(c *cav.CAV, setName string, r *search.Ranking, summaryLength int) *Ranking {
	out := &Ranking{
		CAVID:   c.ID.String(),
		Layer:   c.Layer,
		SetName: setName,
		Images:  r.Top,
	}
	if summaryLength > 0 {
		out.Summary = c.Summary(summaryLength)
	}
	if st, err := r.Stats(); err == nil {
		out.Stats = &st
	}
	return out
}

// Write renders r to w in the given format.
func Write(w io.Writer, r *Ranking, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatXLSX:
		return writeXLSX(w, r)
	default:
		writeText(w, r)
		return nil
	}
}

func writeText(w io.Writer, r *Ranking) {
	fmt.Fprintf(w, "\nCAV %s on %s, %d results from %q\n", r.CAVID, r.Layer, len(r.Images), r.SetName)
	if r.Summary != "" {
		fmt.Fprintf(w, "Summary: %s\n", Truncate(r.Summary, 80))
	}
	if r.Stats != nil {
		fmt.Fprintf(w, "Scores: mean %.4f, stddev %.4f, min %.4f, max %.4f, top-5 mean %.4f\n",
			r.Stats.Mean, r.Stats.Stddev, r.Stats.Min, r.Stats.Max, r.Stats.Top5Mean)
	}
	fmt.Fprintln(w)
	for _, img := range r.Images {
		origin := "built-in"
		if img.Image.UserGenerated {
			origin = "user"
		}
		fmt.Fprintf(w, "%4d  %.4f  %s  (%s)\n", img.Rank, img.Score, img.Image.ID, origin)
	}
}

func writeXLSX(w io.Writer, r *Ranking) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RankingSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []interface{}{"rank", "id", "user_generated", "score"}
	if err := f.SetSheetRow(RankingSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, img := range r.Images {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{img.Rank, img.Image.ID, img.Image.UserGenerated, float64(img.Score)}
		if err := f.SetSheetRow(RankingSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if _, err := f.NewSheet(StatsSheet); err != nil {
		return fmt.Errorf("add stats sheet: %w", err)
	}
	rows := [][]interface{}{
		{"cav_id", r.CAVID},
		{"model_layer", string(r.Layer)},
		{"search_set", r.SetName},
	}
	if r.Stats != nil {
		rows = append(rows,
			[]interface{}{"mean", r.Stats.Mean},
			[]interface{}{"stddev", r.Stats.Stddev},
			[]interface{}{"min", r.Stats.Min},
			[]interface{}{"max", r.Stats.Max},
			[]interface{}{"top_5_mean", r.Stats.Top5Mean},
		)
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(StatsSheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write stats: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
