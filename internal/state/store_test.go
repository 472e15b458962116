package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/lock"
	"github.com/Iron-Ham/ralphloop/internal/process"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, dir string, alive func(int) bool) *Store {
	t.Helper()
	if alive == nil {
		alive = func(int) bool { return true }
	}
	s, err := New(Options{
		Dir:      dir,
		Liveness: process.CheckerFunc(alive),
		Now:      func() time.Time { return fixedNow },
		Lock: lock.New(lock.Options{
			LockFile:     filepath.Join(dir, "sessions.lock"),
			Timeout:      5 * time.Second,
			PollInterval: time.Millisecond,
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("state file is not valid JSON: %v\n%s", err, data)
	}
	return root
}

func TestNew(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New without paths should fail validation, got %v", err)
	}

	s, err := New(Options{Dir: "/var/state"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Path() != "/var/state/sessions.json" {
		t.Errorf("Path() = %q", s.Path())
	}

	s, _ = New(Options{Dir: "/var/state", File: "custom.json"})
	if s.Path() != "/var/state/custom.json" {
		t.Errorf("relative File should resolve under Dir, got %q", s.Path())
	}

	s, _ = New(Options{Dir: "/var/state", File: "/elsewhere/s.json"})
	if s.Path() != "/elsewhere/s.json" {
		t.Errorf("absolute File should win, got %q", s.Path())
	}
}

func TestInit(t *testing.T) {
	t.Run("creates empty file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "state")
		s := newTestStore(t, dir, nil)
		if err := s.Init(context.Background()); err != nil {
			t.Fatalf("Init: %v", err)
		}
		root := readRaw(t, s.Path())
		sessions, ok := root["sessions"].(map[string]any)
		if !ok || len(sessions) != 0 {
			t.Errorf("expected empty sessions mapping, got %v", root)
		}
	})

	t.Run("keeps existing sessions", func(t *testing.T) {
		s := newTestStore(t, t.TempDir(), nil)
		ctx := context.Background()
		s.Set(ctx, "docs", Fields{}.WithStatus(StatusRunning))
		if err := s.Init(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "docs"); err != nil {
			t.Errorf("Init must not drop sessions: %v", err)
		}
	})
}

func TestCorruptStateIsRepaired(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"zero bytes", ""},
		{"whitespace", "  \n"},
		{"trailing data", `{"sessions":{}} {"x":1}`},
		{"wrong shape", `{"sessions":{"a":[1,2]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := newTestStore(t, dir, nil)
			var repaired []error
			s.onRepair = func(_ string, cause error) { repaired = append(repaired, cause) }

			if err := os.WriteFile(s.Path(), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			records, err := s.List(context.Background())
			if err != nil {
				t.Fatalf("corrupt state must not propagate: %v", err)
			}
			if len(records) != 0 {
				t.Errorf("expected empty state, got %d records", len(records))
			}
			if len(repaired) != 1 || !errors.Is(repaired[0], errors.ErrCorruptState) {
				t.Errorf("OnRepair causes = %v, want one ErrCorruptState", repaired)
			}
			readRaw(t, s.Path())
		})
	}
}

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	if _, err := s.Get(ctx, "docs"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Get on empty store = %v, want not found", err)
	}

	err := s.Set(ctx, "docs", Fields{
		KeyStatus:        StatusRunning,
		KeyPID:           1234,
		KeyDir:           "/src/docs",
		KeyTaskFile:      "PRD.md",
		KeyMaxIterations: 10,
		KeyLastTaskCount: UnknownTaskCount,
		"tmuxSession":    "ralph-docs",
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := s.Set(ctx, "docs", Fields{}.WithIteration(2).WithLastTaskCount(5)); err != nil {
		t.Fatalf("partial Set: %v", err)
	}

	rec, err := s.Get(ctx, "docs")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Name != "docs" {
		t.Errorf("Name = %q, want docs", rec.Name)
	}
	if rec.Status != StatusRunning || rec.PID != 1234 || rec.Dir != "/src/docs" || rec.TaskFile != "PRD.md" {
		t.Errorf("fields from the first Set were lost: %+v", rec)
	}
	if rec.Iteration != 2 || rec.LastTaskCount != 5 || rec.MaxIterations != 10 {
		t.Errorf("partial update not applied: %+v", rec)
	}
	if rec.TmuxSession != "ralph-docs" {
		t.Errorf("TmuxSession = %q", rec.TmuxSession)
	}
	if !rec.UpdatedAt.Equal(fixedNow) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, fixedNow)
	}
}

func TestSet_NameAlwaysWritten(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	if err := s.Set(ctx, "docs", Fields{KeyName: "impostor", KeyStatus: "running"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Get(ctx, "docs")
	if rec.Name != "docs" {
		t.Errorf("Name = %q, want docs", rec.Name)
	}
	raw := readRaw(t, s.Path())["sessions"].(map[string]any)["docs"].(map[string]any)
	if raw["name"] != "docs" {
		t.Errorf("stored name = %v, want docs", raw["name"])
	}

	if err := s.Set(ctx, "", Fields{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty name should be rejected, got %v", err)
	}
}

func TestSet_EmptyStringClearsField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	s.Set(ctx, "docs", Fields{}.WithStatus(StatusFailed).WithError("boom"))
	s.Set(ctx, "docs", Fields{}.WithError(""))

	rec, _ := s.Get(ctx, "docs")
	if rec.Error != "" {
		t.Errorf("Error = %q, want cleared", rec.Error)
	}
	if rec.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", rec.Status)
	}
}

func TestNumbersArePreserved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, dir, nil)

	initial := `{"sessions":{"docs":{"name":"docs","status":"running","pid":42,"tokens":12345678901234567,"ratio":0.25,"tags":["a","b"]}}}`
	if err := os.WriteFile(s.Path(), []byte(initial), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "docs", Fields{}.WithIteration(3)); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(s.Path())
	for _, want := range []string{`"tokens": 12345678901234567`, `"ratio": 0.25`, `"pid": 42`, `"iteration": 3`} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("state file missing %s:\n%s", want, data)
		}
	}
	if bytes.Contains(data, []byte(`"42"`)) {
		t.Error("numbers must not be stringified")
	}

	rec, err := s.Get(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PID != 42 {
		t.Errorf("PID = %d, want 42", rec.PID)
	}
	if _, ok := rec.Extra["tokens"]; !ok {
		t.Errorf("unknown fields should be kept in Extra, got %v", rec.Extra)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	if _, err := s.Update(ctx, "missing", func(*Record) error { return nil }); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Update on missing record = %v, want not found", err)
	}

	s.Set(ctx, "docs", Fields{KeyStatus: StatusRunning, KeyPID: 7, "custom": "keep"})

	rec, err := s.Update(ctx, "docs", func(r *Record) error {
		r.Status = StatusStopped
		r.PID = 0
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Status != StatusStopped {
		t.Errorf("returned Status = %q", rec.Status)
	}

	got, _ := s.Get(ctx, "docs")
	if got.Status != StatusStopped || got.PID != 0 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.Extra["custom"] != "keep" {
		t.Errorf("Extra lost on Update: %v", got.Extra)
	}

	sentinel := errors.New("abort")
	if _, err := s.Update(ctx, "docs", func(r *Record) error {
		r.Status = StatusRunning
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Errorf("Update error = %v, want sentinel", err)
	}
	if got, _ := s.Get(ctx, "docs"); got.Status != StatusStopped {
		t.Error("a failed Update must not write")
	}
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	if _, err := s.Transition(ctx, "docs", StatusComplete, nil); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("creating a session as complete = %v, want invalid transition", err)
	}

	rec, err := s.Transition(ctx, "docs", StatusRunning, Fields{}.WithPID(99).WithIteration(1))
	if err != nil {
		t.Fatalf("Transition to running: %v", err)
	}
	if rec.Status != StatusRunning || rec.PID != 99 || rec.Iteration != 1 {
		t.Errorf("unexpected record %+v", rec)
	}

	if _, err := s.Transition(ctx, "docs", StatusRunning, Fields{}.WithIteration(2)); err != nil {
		t.Errorf("running -> running progress update: %v", err)
	}
	if _, err := s.Transition(ctx, "docs", StatusComplete, nil); err != nil {
		t.Fatalf("running -> complete: %v", err)
	}

	_, err = s.Transition(ctx, "docs", StatusRunning, nil)
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("complete -> running = %v, want invalid transition", err)
	}
	var sessErr *errors.SessionError
	if !errors.As(err, &sessErr) || sessErr.Session != "docs" {
		t.Errorf("expected SessionError for docs, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{"", StatusRunning, true},
		{"", StatusStopped, false},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusMaxIterations, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusStale, true},
		{StatusRunning, StatusRunning, true},
		{StatusStale, StatusRunning, true},
		{StatusStopped, StatusRunning, true},
		{StatusFailed, StatusRunning, true},
		{StatusMaxIterations, StatusRunning, true},
		{StatusStopped, StatusComplete, false},
		{StatusStale, StatusStopped, false},
		{StatusComplete, StatusRunning, false},
		{StatusStopped, StatusStopped, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}

	if Resumable(StatusRunning) || Resumable(StatusComplete) || !Resumable(StatusStale) {
		t.Error("Resumable mismatch")
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir(), nil)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Set(ctx, name, Fields{}.WithStatus(StatusRunning)); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	if !slices.Equal(names, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("List names = %v", names)
	}

	if err := s.Delete(ctx, "mid"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "mid"); !errors.Is(err, errors.ErrNotFound) {
		t.Error("deleted record should be gone")
	}
	if err := s.Delete(ctx, "mid"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Delete = %v, want not found", err)
	}
}

func TestCleanupStale(t *testing.T) {
	const livePID, deadPID = 100, 200
	alive := func(pid int) bool { return pid == livePID }

	setup := func(t *testing.T) *Store {
		t.Helper()
		ctx := context.Background()
		s := newTestStore(t, t.TempDir(), alive)
		s.Set(ctx, "a", Fields{}.WithStatus(StatusRunning).WithPID(livePID))
		s.Set(ctx, "b", Fields{}.WithStatus(StatusRunning).WithPID(deadPID))
		s.Set(ctx, "c", Fields{}.WithStatus(StatusRunning))
		s.Set(ctx, "d", Fields{}.WithStatus(StatusStopped).WithPID(deadPID))
		return s
	}

	t.Run("mark", func(t *testing.T) {
		ctx := context.Background()
		s := setup(t)
		cleaned, err := s.CleanupStale(ctx, ModeMark)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(cleaned, []string{"b"}) {
			t.Errorf("cleaned = %v, want [b]", cleaned)
		}
		if rec, _ := s.Get(ctx, "b"); rec.Status != StatusStale {
			t.Errorf("b status = %q, want stale", rec.Status)
		}
		for _, name := range []string{"a", "c"} {
			if rec, _ := s.Get(ctx, name); rec.Status != StatusRunning {
				t.Errorf("%s status = %q, want running", name, rec.Status)
			}
		}
		if rec, _ := s.Get(ctx, "d"); rec.Status != StatusStopped {
			t.Errorf("d should be untouched, got %q", rec.Status)
		}

		again, _ := s.CleanupStale(ctx, ModeMark)
		if len(again) != 0 {
			t.Errorf("second cleanup = %v, want []", again)
		}
	})

	t.Run("remove", func(t *testing.T) {
		ctx := context.Background()
		s := setup(t)
		cleaned, err := s.CleanupStale(ctx, ModeRemove)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(cleaned, []string{"b"}) {
			t.Errorf("cleaned = %v, want [b]", cleaned)
		}
		if _, err := s.Get(ctx, "b"); !errors.Is(err, errors.ErrNotFound) {
			t.Error("b should be deleted")
		}
		records, _ := s.List(ctx)
		if len(records) != 3 {
			t.Errorf("expected 3 remaining records, got %d", len(records))
		}
	})

	t.Run("only live sessions", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t, t.TempDir(), alive)
		s.Set(ctx, "a", Fields{}.WithStatus(StatusRunning).WithPID(livePID))
		cleaned, err := s.CleanupStale(ctx, ModeMark)
		if err != nil {
			t.Fatal(err)
		}
		if cleaned == nil || len(cleaned) != 0 {
			t.Errorf("cleaned = %#v, want empty non-nil slice", cleaned)
		}
	})
}

func TestConcurrentSetAcrossStores(t *testing.T) {
	dir := t.TempDir()
	const writers = 16

	var wg sync.WaitGroup
	stop := make(chan struct{})
	readerErrs := make(chan string, 1)

	path := filepath.Join(dir, DefaultFileName)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if !json.Valid(data) {
				select {
				case readerErrs <- string(data):
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < writers; i++ {
		// Separate Stores with separate lock managers behave like separate processes.
		s := newTestStore(t, dir, nil)
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("session-%02d", n)
			if err := s.Set(context.Background(), name, Fields{}.WithStatus(StatusRunning).WithIteration(n)); err != nil {
				t.Errorf("Set %s: %v", name, err)
			}
		}(i)
	}
	wg.Wait()
	close(stop)

	select {
	case bad := <-readerErrs:
		t.Fatalf("reader observed an invalid state file: %q", bad)
	default:
	}

	records, err := newTestStore(t, dir, nil).List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != writers {
		t.Fatalf("got %d records, want %d", len(records), writers)
	}
	for _, r := range records {
		var n int
		fmt.Sscanf(strings.TrimPrefix(r.Name, "session-"), "%d", &n)
		if r.Iteration != n {
			t.Errorf("%s iteration = %d, want %d", r.Name, r.Iteration, n)
		}
	}
}

func TestAtomicPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t, dir, nil)

	if err := s.Set(ctx, "docs", Fields{}.WithStatus(StatusRunning)); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(s.Path())

	t.Run("crash before rename leaves target intact", func(t *testing.T) {
		renameFile = func(string, string) error { return errors.New("killed") }
		defer func() { renameFile = os.Rename }()

		if err := s.Set(ctx, "docs", Fields{}.WithIteration(9)); err == nil {
			t.Fatal("expected Set to fail")
		}
		after, _ := os.ReadFile(s.Path())
		if !bytes.Equal(before, after) {
			t.Errorf("target changed after failed write:\nbefore %s\nafter  %s", before, after)
		}
		leftovers, _ := filepath.Glob(filepath.Join(dir, ".sessions.json.tmp-*"))
		if len(leftovers) != 0 {
			t.Errorf("temp files left behind: %v", leftovers)
		}
	})

	t.Run("orphaned temp file is ignored", func(t *testing.T) {
		orphan := filepath.Join(dir, ".sessions.json.tmp-crashed")
		if err := os.WriteFile(orphan, []byte(`{"sessions":{"ghost":{}}}`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "ghost"); !errors.Is(err, errors.ErrNotFound) {
			t.Error("temp file contents must never be visible")
		}
		if _, err := s.Get(ctx, "docs"); err != nil {
			t.Errorf("Get docs: %v", err)
		}
	})

	t.Run("permissions are kept", func(t *testing.T) {
		if err := os.Chmod(s.Path(), 0600); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, "docs", Fields{}.WithIteration(1)); err != nil {
			t.Fatal(err)
		}
		info, err := os.Stat(s.Path())
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	})
}

func TestWriteFileAtomicRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	if err := writeFileAtomic(path, nil, 0644); err == nil {
		t.Error("writing zero bytes should be refused")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should be created")
	}
}

func TestLockTimeoutPropagates(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{
		Dir: dir,
		Lock: lock.New(lock.Options{
			LockFile:     filepath.Join(dir, "sessions.lock"),
			Timeout:      50 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	holder := lock.New(lock.Options{LockFile: filepath.Join(dir, "sessions.lock")})
	h, err := holder.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if err := s.Set(context.Background(), "docs", Fields{}); !errors.Is(err, errors.ErrLockTimeout) {
		t.Errorf("Set under contention = %v, want lock timeout", err)
	}
}

func TestRecordMarshalJSON(t *testing.T) {
	rec := Record{
		Name:          "docs",
		Status:        StatusComplete,
		Iteration:     4,
		LastTaskCount: 0,
		StartedAt:     fixedNow,
		Extra:         map[string]any{"tmux": "x"},
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	json.Unmarshal(data, &got)
	if got["status"] != "complete" || got["iteration"] != float64(4) || got["tmux"] != "x" {
		t.Errorf("unexpected JSON %s", data)
	}
	if got["startedAt"] != "2026-03-01T12:00:00Z" {
		t.Errorf("startedAt = %v", got["startedAt"])
	}
	if _, ok := got["logFile"]; ok {
		t.Error("empty optional fields should be omitted")
	}
}

func TestCreate(t *testing.T) {
	s := newTestStore(t, t.TempDir(), nil)
	ctx := context.Background()

	rec, err := s.Create(ctx, "docs", Fields{KeyDir: "/work", KeyMaxIterations: 5}.WithPID(11))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != StatusRunning || rec.PID != 11 || rec.MaxIterations != 5 || rec.Dir != "/work" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.StartedAt.Equal(fixedNow) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, fixedNow)
	}

	if _, err := s.Transition(ctx, "docs", StatusFailed, nil); err != nil {
		t.Fatal(err)
	}
	_, err = s.Create(ctx, "docs", nil)
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	got, _ := s.Get(ctx, "docs")
	if got.Status != StatusFailed {
		t.Errorf("existing record must be untouched, status = %q", got.Status)
	}

	if _, err := s.Create(ctx, "", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty name should fail validation, got %v", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "docs", true},
		{"dashes and dots", "api-v2.1", true},
		{"empty", "", false},
		{"blank", "  ", false},
		{"parent escape", "../../escape", false},
		{"nested", "team/docs", false},
		{"backslash", `team\docs`, false},
		{"dot dot", "..", false},
		{"nul", "do\x00cs", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.ok && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
			}
			if !tt.ok && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("ValidateName(%q) = %v, want ErrInvalidInput", tt.input, err)
			}
		})
	}
}

func TestCreateAndSetRejectInvalidNames(t *testing.T) {
	s := newTestStore(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "../escape", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Create: expected ErrInvalidInput, got %v", err)
	}
	if err := s.Set(ctx, "a/b", Fields{}.WithStatus(StatusRunning)); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Set: expected ErrInvalidInput, got %v", err)
	}
	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("no records expected, got %d", len(records))
	}
}
