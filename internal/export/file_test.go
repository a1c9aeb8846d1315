package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/phaseseg/internal/store"
	"github.com/user/phaseseg/internal/types"
)

func sampleOutput() *types.RunOutput {
	at := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	dur := 12.5
	idx := 1
	return &types.RunOutput{
		RunID: types.NewRunID(),
		Events: []types.LabeledEvent{
			{Event: types.Event{IncidentID: "INC-1", Time: at, Timestamp: "2024-03-05 08:00:00", InsertSequence: 1, Actor: "DISPATCH", Description: "created, pending"}, Position: 0, Phase: types.PhaseLiveDispatch},
			{Event: types.Event{IncidentID: "INC-1", Time: at.Add(time.Hour), Timestamp: "2024-03-05 09:00:00", InsertSequence: 2, Actor: "ARCHIVER", IsArchivalActor: true}, Position: 1, Phase: types.PhaseDocQC},
		},
		Summaries: []types.IncidentSummary{
			{IncidentID: "INC-1", HasArchivalBlock: true, BStartIdx: &idx, TStart: &at, DurDocQCMin: &dur, NEventsTotal: 2, NLive: 1, NDocQC: 1, ActorsLive: []string{"DISPATCH"}, ActorsDocQC: []string{"ARCHIVER"}},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestSummaryPath(t *testing.T) {
	if got := SummaryPath("out/labels.csv"); got != "out/labels_summary.csv" {
		t.Errorf("got %q", got)
	}
	if got := SummaryPath("labels"); got != "labels_summary" {
		t.Errorf("got %q", got)
	}
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "labels.csv")
	if err := Default().Write(context.Background(), path, sampleOutput()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][4] != "created, pending" {
		t.Errorf("description not quoted correctly: %q", rows[1][4])
	}
	if rows[2][9] != string(types.PhaseDocQC) || rows[2][6] != "true" {
		t.Errorf("unexpected second row: %v", rows[2])
	}

	sums := readCSV(t, SummaryPath(path))
	if len(sums) != 2 || len(sums[1]) != len(SummaryColumns) {
		t.Fatalf("unexpected summary rows: %v", sums)
	}
	col := func(name string) string {
		for i, c := range SummaryColumns {
			if c == name {
				return sums[1][i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}
	if col("dur_doc_qc_min") != "12.5" || col("b_start_idx") != "1" || col("b_end_idx") != "" {
		t.Errorf("unexpected summary row: %v", sums[1])
	}
	if col("t_start") != "2024-03-05T08:00:00Z" {
		t.Errorf("t_start: got %q", col("t_start"))
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}
}

func TestJSONLSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.jsonl")
	if err := Default().Write(context.Background(), path, sampleOutput()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first types.LabeledEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Phase != types.PhaseLiveDispatch || first.Actor != "DISPATCH" {
		t.Errorf("unexpected first event: %+v", first)
	}

	if _, err := os.Stat(SummaryPath(path)); err != nil {
		t.Errorf("summary file missing: %v", err)
	}
}

func TestJSONSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	out := sampleOutput()
	if err := Default().Write(context.Background(), path, out); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got types.RunOutput
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != out.RunID || len(got.Events) != 2 || len(got.Summaries) != 1 {
		t.Errorf("unexpected document: %+v", got)
	}
}

func TestSQLiteSink(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")
	out := sampleOutput()
	ctx := context.Background()
	if err := Default().Write(ctx, SQLitePrefix+dbPath, out); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer s.Close()
	sums, err := s.ListSummaries(ctx, out.RunID)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(sums) != 1 || sums[0].IncidentID != "INC-1" {
		t.Errorf("unexpected summaries: %+v", sums)
	}
}

func TestUnsupportedOutput(t *testing.T) {
	if err := Default().Write(context.Background(), "out.parquet", sampleOutput()); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := OpenSQLite(SQLitePrefix); err == nil {
		t.Error("expected error for empty sqlite path")
	}
}
