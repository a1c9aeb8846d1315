package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/user/phaseseg/internal/types"
)

// fileSink writes labeled events to path and summaries to a sibling file.
type fileSink struct {
	path   string
	events func(io.Writer, []types.LabeledEvent) error
	sums   func(io.Writer, []types.IncidentSummary) error
}

// SummaryPath returns the summary file written next to an events file:
// "out/labels.csv" becomes "out/labels_summary.csv".
func SummaryPath(location string) string {
	ext := filepath.Ext(location)
	return strings.TrimSuffix(location, ext) + "_summary" + ext
}

// OpenCSV returns a sink writing events and summaries as CSV.
func OpenCSV(location string) (types.ResultSink, error) {
	return &fileSink{path: location, events: writeEventsCSV, sums: writeSummariesCSV}, nil
}

// OpenJSONL returns a sink writing one JSON object per line.
func OpenJSONL(location string) (types.ResultSink, error) {
	return &fileSink{
		path:   location,
		events: func(w io.Writer, evs []types.LabeledEvent) error { return writeJSONL(w, evs) },
		sums:   func(w io.Writer, sums []types.IncidentSummary) error { return writeJSONL(w, sums) },
	}, nil
}

func (f *fileSink) WriteResults(ctx context.Context, out *types.RunOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(f.path, func(w io.Writer) error { return f.events(w, out.Events) }); err != nil {
		return err
	}
	return writeAtomic(SummaryPath(f.path), func(w io.Writer) error { return f.sums(w, out.Summaries) })
}

func (f *fileSink) Close() error { return nil }

// jsonSink writes the whole run output as one indented document.
type jsonSink struct {
	path string
}

// OpenJSON returns a sink writing the full run output to a single file.
func OpenJSON(location string) (types.ResultSink, error) {
	return &jsonSink{path: location}, nil
}

func (j *jsonSink) WriteResults(ctx context.Context, out *types.RunOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(j.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
}

func (j *jsonSink) Close() error { return nil }

// writeAtomic writes through a temp file and renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func writeJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			return err
		}
	}
	return nil
}

// EventColumns is the header of the labeled events CSV.
var EventColumns = []string{
	"incident_id", "timestamp", "insert_sequence", "actor", "description",
	"is_completion", "is_archival_actor", "malformed", "position", "phase",
}

func writeEventsCSV(w io.Writer, events []types.LabeledEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EventColumns); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			string(e.IncidentID),
			e.Timestamp,
			strconv.FormatInt(e.InsertSequence, 10),
			e.Actor,
			e.Description,
			strconv.FormatBool(e.IsCompletion),
			strconv.FormatBool(e.IsArchivalActor),
			strconv.FormatBool(e.Malformed),
			strconv.Itoa(e.Position),
			string(e.Phase),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryColumns is the header of the summary CSV.
var SummaryColumns = []string{
	"incident_id", "has_archival_block", "has_completed", "reviewer",
	"b_start_idx", "b_end_idx", "first_archival_idx", "last_archival_idx",
	"t_start", "t_end", "t_completed", "a_tail_end",
	"t_archive_first", "t_archive_last", "t_b_start", "t_b_end",
	"t_c1_start", "t_c2_start",
	"dur_doc_qc_min", "dur_c1_min", "dur_c2_min",
	"n_events_total", "n_live", "n_doc_qc", "n_c1", "n_c2", "n_malformed",
	"actors_live", "actors_doc_qc", "actors_c1", "actors_c2",
}

func writeSummariesCSV(w io.Writer, sums []types.IncidentSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryColumns); err != nil {
		return err
	}
	for _, s := range sums {
		rec := []string{
			string(s.IncidentID),
			strconv.FormatBool(s.HasArchivalBlock),
			strconv.FormatBool(s.HasCompleted),
			s.Reviewer,
			fmtInt(s.BStartIdx), fmtInt(s.BEndIdx), fmtInt(s.FirstArchivalIdx), fmtInt(s.LastArchivalIdx),
			fmtTime(s.TStart), fmtTime(s.TEnd), fmtTime(s.TCompleted), fmtTime(s.ATailEnd),
			fmtTime(s.TArchiveFirst), fmtTime(s.TArchiveLast), fmtTime(s.TBStart), fmtTime(s.TBEnd),
			fmtTime(s.TC1Start), fmtTime(s.TC2Start),
			fmtFloat(s.DurDocQCMin), fmtFloat(s.DurC1Min), fmtFloat(s.DurC2Min),
			strconv.Itoa(s.NEventsTotal), strconv.Itoa(s.NLive), strconv.Itoa(s.NDocQC),
			strconv.Itoa(s.NC1), strconv.Itoa(s.NC2), strconv.Itoa(s.NMalformed),
			strings.Join(s.ActorsLive, ";"), strings.Join(s.ActorsDocQC, ";"),
			strings.Join(s.ActorsC1, ";"), strings.Join(s.ActorsC2, ";"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func fmtTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
