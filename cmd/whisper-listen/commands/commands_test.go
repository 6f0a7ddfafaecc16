package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/whisper-listen/internal/artifact"
	"github.com/petems/whisper-listen/internal/config"
	"github.com/petems/whisper-listen/internal/store"
	"github.com/petems/whisper-listen/internal/whisper"
)

// setupTestEnv writes a config pointing the history at a temp dir and
// redirects logs away from the user's state dir.
func setupTestEnv(t *testing.T) (cfgPath string, cfg *config.Config) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("HOME", dir)

	cfg = config.Default()
	cfg.LogLevel = "error"
	cfg.Store.Dir = filepath.Join(dir, "history")
	cfgPath = filepath.Join(dir, "config.yaml")
	if err := cfg.SaveTo(cfgPath); err != nil {
		t.Fatal(err)
	}
	return cfgPath, cfg
}

func seed(t *testing.T, cfg *config.Config, texts ...string) {
	t.Helper()
	db, err := store.Open(store.Options{Dir: cfg.Store.Dir, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, text := range texts {
		if _, err := db.Insert(t.Context(), store.Record{Text: text, DurationSeconds: 1}); err != nil {
			t.Fatal(err)
		}
	}
}

func runCmd(t *testing.T, cfgPath string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCmd("1.2.3", "abc123")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	root.SetContext(t.Context())
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	cfgPath, _ := setupTestEnv(t)

	stdout, _, err := runCmd(t, cfgPath, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "whisper-listen 1.2.3 (abc123)") {
		t.Fatalf("unexpected version output: %s", stdout)
	}

	stdout, _, err = runCmd(t, cfgPath, "version", "--verbose")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, cfgPath) {
		t.Errorf("verbose version should print config path, got: %s", stdout)
	}
}

func TestHistoryEmpty(t *testing.T) {
	cfgPath, _ := setupTestEnv(t)

	stdout, _, err := runCmd(t, cfgPath, "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "No transcriptions yet") {
		t.Errorf("unexpected output: %s", stdout)
	}
}

func TestHistoryPaging(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "first", "second", "third")

	stdout, _, err := runCmd(t, cfgPath, "history", "--limit", "2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "third") || !strings.Contains(stdout, "second") || strings.Contains(stdout, "first") {
		t.Errorf("expected two newest entries, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Showing 1-2 of 3 (next: --offset 2)") {
		t.Errorf("missing paging footer:\n%s", stdout)
	}
}

func TestSearch(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "call the dentist", "buy milk", "dentist moved to friday")

	stdout, _, err := runCmd(t, cfgPath, "search", "Dentist")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stdout, "buy milk") || strings.Count(stdout, "dentist") != 2 {
		t.Errorf("unexpected search output:\n%s", stdout)
	}

	stdout, _, err = runCmd(t, cfgPath, "search", "zebra")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, `No transcriptions match "zebra"`) {
		t.Errorf("unexpected output: %s", stdout)
	}
}

func TestDelete(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "only")

	if _, _, err := runCmd(t, cfgPath, "delete", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, _, err := runCmd(t, cfgPath, "delete", "1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, _, err := runCmd(t, cfgPath, "delete", "abc"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestClearRequiresConfirm(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "a", "b")

	if _, _, err := runCmd(t, cfgPath, "clear"); err == nil {
		t.Fatal("expected clear without --confirm to fail")
	}

	stdout, _, err := runCmd(t, cfgPath, "clear", "--confirm")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "Deleted 2 transcription(s)") {
		t.Errorf("unexpected output: %s", stdout)
	}
}

func TestExportJSONToFile(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "one", "two")

	out := filepath.Join(t.TempDir(), "history.json")
	if _, _, err := runCmd(t, cfgPath, "export", "--format", "json", "-o", out); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var entries []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("invalid export: %v", err)
	}
	if len(entries) != 2 || entries[0].Text != "one" {
		t.Errorf("unexpected export: %+v", entries)
	}
}

func TestExportTextToStdout(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	seed(t, cfg, "hello")

	stdout, _, err := runCmd(t, cfgPath, "export", "--format", "txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "(1.0s) hello") {
		t.Errorf("unexpected export: %s", stdout)
	}

	if _, _, err := runCmd(t, cfgPath, "export", "--format", "csv"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestConfigInit(t *testing.T) {
	_, _ = setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "fresh", "config.yaml")

	if _, _, err := runCmd(t, path, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := config.LoadFrom(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if _, _, err := runCmd(t, path, "config", "init"); err == nil {
		t.Error("expected refusal to overwrite without --force")
	}
	if _, _, err := runCmd(t, path, "config", "init", "--force"); err != nil {
		t.Errorf("config init --force: %v", err)
	}
}

func TestConfigShowRedactsKey(t *testing.T) {
	cfgPath, cfg := setupTestEnv(t)
	cfg.Whisper.APIKey = "sk-secret"
	if err := cfg.SaveTo(cfgPath); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := runCmd(t, cfgPath, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stdout, "sk-secret") || !strings.Contains(stdout, "<redacted>") {
		t.Errorf("api key not redacted:\n%s", stdout)
	}
}

func TestTranscribeRejectsInvalidWAV(t *testing.T) {
	cfgPath, _ := setupTestEnv(t)
	bogus := filepath.Join(t.TempDir(), "bogus.wav")
	if err := os.WriteFile(bogus, []byte("not a wav"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := runCmd(t, cfgPath, "transcribe", bogus); err == nil {
		t.Error("expected error for invalid wav")
	}
}

type fakeCopier struct {
	copied []string
	err    error
}

func (f *fakeCopier) Copy(text string) error {
	f.copied = append(f.copied, text)
	return f.err
}

type fakeRecorder struct{ err error }

func (f *fakeRecorder) Insert(_ context.Context, _ store.Record) (uint64, error) {
	return 7, f.err
}

func TestCopyingRecorder(t *testing.T) {
	clip := &fakeCopier{err: errors.New("no clipboard")}
	r := &copyingRecorder{next: &fakeRecorder{}, clip: clip, log: zerolog.Nop()}

	id, err := r.Insert(t.Context(), store.Record{Text: "hi"})
	if err != nil || id != 7 {
		t.Fatalf("clipboard failure must not fail the insert: id=%d err=%v", id, err)
	}
	if len(clip.copied) != 1 || clip.copied[0] != "hi" {
		t.Errorf("expected text copied, got %v", clip.copied)
	}

	clip = &fakeCopier{}
	r = &copyingRecorder{next: &fakeRecorder{err: errors.New("disk full")}, clip: clip, log: zerolog.Nop()}
	if _, err := r.Insert(t.Context(), store.Record{Text: "hi"}); err == nil {
		t.Error("expected store error")
	}
	if len(clip.copied) != 0 {
		t.Error("nothing should be copied when the insert fails")
	}
}

type fakeTranscriber struct {
	res *whisper.Result
	err error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string) (*whisper.Result, error) {
	return f.res, f.err
}

func (f *fakeTranscriber) ModelName() string { return "fake" }

func (f *fakeTranscriber) Close() error { return nil }

type capturingRecorder struct{ recs []store.Record }

func (c *capturingRecorder) Insert(_ context.Context, rec store.Record) (uint64, error) {
	c.recs = append(c.recs, rec)
	return uint64(len(c.recs)), nil
}

func writeWAV(t *testing.T, seconds float64) string {
	t.Helper()
	arts, err := artifact.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	path, err := arts.Write(make([]float32, int(seconds*16000)), 16000)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeFileDuration(t *testing.T) {
	path := writeWAV(t, 2)

	tests := []struct {
		name string
		res  *whisper.Result
		want float64
	}{
		{"audio length without segments", &whisper.Result{Text: "hi"}, 2},
		{"last segment end", &whisper.Result{Text: "hi", Segments: []whisper.Segment{
			{Start: 0, End: 1500 * time.Millisecond, Text: "hi"},
		}}, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &capturingRecorder{}
			_, id, err := transcribeFile(t.Context(), &fakeTranscriber{res: tt.res}, rec, path, "")
			if err != nil {
				t.Fatal(err)
			}
			if id != 1 || len(rec.recs) != 1 {
				t.Fatalf("expected one stored record, got id=%d recs=%d", id, len(rec.recs))
			}
			if got := rec.recs[0].DurationSeconds; got != tt.want {
				t.Errorf("expected duration %g, got %g", tt.want, got)
			}
			if rec.recs[0].ModelName != "fake" {
				t.Errorf("unexpected model %q", rec.recs[0].ModelName)
			}
		})
	}
}

func TestTranscribeFileSkipsStoreForEmptyOrNoSave(t *testing.T) {
	path := writeWAV(t, 1)

	rec := &capturingRecorder{}
	if _, id, err := transcribeFile(t.Context(), &fakeTranscriber{res: &whisper.Result{}}, rec, path, ""); err != nil || id != 0 {
		t.Errorf("empty result: id=%d err=%v", id, err)
	}
	if _, id, err := transcribeFile(t.Context(), &fakeTranscriber{res: &whisper.Result{Text: "x"}}, nil, path, ""); err != nil || id != 0 {
		t.Errorf("no recorder: id=%d err=%v", id, err)
	}
	if len(rec.recs) != 0 {
		t.Error("nothing should be stored")
	}

	boom := errors.New("model missing")
	if _, _, err := transcribeFile(t.Context(), &fakeTranscriber{err: boom}, rec, path, ""); !errors.Is(err, boom) {
		t.Errorf("expected transcriber error, got %v", err)
	}
}
