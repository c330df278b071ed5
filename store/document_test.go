package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"

	"github.com/alimasry/go-notepad/diff"
)

func ctx() context.Context { return context.Background() }

func newTestDoc(t *testing.T, backend *MemoryBackend, key string) *Document {
	t.Helper()
	d, err := NewRegistry(backend).Get(ctx(), key)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDocument_FreshDocument(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")

	snap := d.Read()
	if snap.Content != "" || snap.Version != 0 || snap.Key != "alice" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestDocument_LoadsExistingContent(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Put("alice", "hello")
	d := newTestDoc(t, backend, "alice")

	snap := d.Read()
	if snap.Content != "hello" || snap.Version != 0 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestDocument_WriteFull(t *testing.T) {
	backend := NewMemoryBackend()
	d := newTestDoc(t, backend, "alice")

	v, err := d.WriteFull(ctx(), "hello", 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	if got, _, _ := backend.Load(ctx(), "alice"); got != "hello" {
		t.Errorf("persisted %q, want %q", got, "hello")
	}

	// Empty content is a valid document.
	v, err = d.WriteFull(ctx(), "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if snap := d.Read(); snap.Content != "" || snap.Version != 2 || v != 2 {
		t.Errorf("unexpected snapshot after clearing: %+v", snap)
	}
}

func TestDocument_WriteFullConflict(t *testing.T) {
	backend := NewMemoryBackend()
	d := newTestDoc(t, backend, "alice")
	if _, err := d.WriteFull(ctx(), "first", 0); err != nil {
		t.Fatal(err)
	}

	_, err := d.WriteFull(ctx(), "stale", 0)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *ConflictError", err)
	}
	if ce.Content != "first" || ce.Version != 1 || ce.Expected != 0 {
		t.Errorf("unexpected conflict: %+v", ce)
	}
	if snap := d.Read(); snap.Content != "first" || snap.Version != 1 {
		t.Errorf("state changed after conflict: %+v", snap)
	}
	if backend.Saves() != 1 {
		t.Errorf("saves = %d, want 1", backend.Saves())
	}
}

func TestDocument_WriteIncremental(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")
	if _, err := d.WriteFull(ctx(), "hello world", 0); err != nil {
		t.Fatal(err)
	}

	ops := diff.Compute("hello world", "hello there world")
	v, err := d.WriteIncremental(ctx(), ops, 1)
	if err != nil {
		t.Fatal(err)
	}
	if snap := d.Read(); snap.Content != "hello there world" || snap.Version != 2 || v != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestDocument_WriteIncrementalMalformed(t *testing.T) {
	backend := NewMemoryBackend()
	d := newTestDoc(t, backend, "alice")
	if _, err := d.WriteFull(ctx(), "abcdef", 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ops  []diff.Operation
	}{
		{"start after end", []diff.Operation{diff.NewReplace(4, 2, "x")}},
		{"out of bounds", []diff.Operation{diff.NewReplace(2, 10, "x")}},
		{"overlap", []diff.Operation{diff.NewReplace(0, 3, "x"), diff.NewReplace(2, 4, "y")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.WriteIncremental(ctx(), tt.ops, 1)
			if !errors.Is(err, ErrMalformedOperation) {
				t.Fatalf("err = %v, want ErrMalformedOperation", err)
			}
			if snap := d.Read(); snap.Content != "abcdef" || snap.Version != 1 {
				t.Errorf("state changed: %+v", snap)
			}
		})
	}
	if backend.Saves() != 1 {
		t.Errorf("saves = %d, want 1", backend.Saves())
	}
}

func TestDocument_WriteIncrementalChecksVersionFirst(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")

	_, err := d.WriteIncremental(ctx(), []diff.Operation{diff.NewReplace(4, 2, "x")}, 7)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}

func TestDocument_InvalidContent(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")

	_, err := d.WriteFull(ctx(), "bad \xff bytes", 0)
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("err = %v, want ErrInvalidContent", err)
	}
	if d.Version() != 0 {
		t.Errorf("version = %d, want 0", d.Version())
	}
}

func TestDocument_StorageFailure(t *testing.T) {
	backend := NewMemoryBackend()
	d := newTestDoc(t, backend, "alice")
	if _, err := d.WriteFull(ctx(), "saved", 0); err != nil {
		t.Fatal(err)
	}

	diskFull := errors.New("no space left on device")
	backend.FailSaves(diskFull)

	_, err := d.WriteFull(ctx(), "lost", 1)
	if !errors.Is(err, ErrStorageFailure) || !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want storage failure wrapping %v", err, diskFull)
	}
	var se *StorageError
	if !errors.As(err, &se) || !se.Retryable() {
		t.Fatalf("err = %v, want retryable *StorageError", err)
	}
	if snap := d.Read(); snap.Content != "saved" || snap.Version != 1 {
		t.Errorf("state advanced despite failed save: %+v", snap)
	}

	// The same write succeeds once storage recovers.
	backend.FailSaves(nil)
	if v, err := d.WriteFull(ctx(), "lost", 1); err != nil || v != 2 {
		t.Fatalf("retry: v=%d err=%v", v, err)
	}
}

func TestDocument_Info(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")
	if _, err := d.WriteFull(ctx(), "hello", 0); err != nil {
		t.Fatal(err)
	}

	info := d.Info()
	if info.Key != "alice" || info.Size != 5 || info.Version != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.Location != "memory://alice" {
		t.Errorf("location = %q", info.Location)
	}
	if len(info.Hash) != 16 || info.Modified.IsZero() {
		t.Errorf("unexpected hash/modified: %+v", info)
	}
}

func TestDocument_WriteReturnsCommittedInfo(t *testing.T) {
	var (
		mu     sync.Mutex
		hashes = map[int64]string{}
	)
	reg := NewRegistry(NewMemoryBackend(), WithCommitHook(func(s Snapshot) {
		mu.Lock()
		hashes[s.Version] = fmt.Sprintf("%016x", s.Hash)
		mu.Unlock()
	}))
	d, err := reg.Get(ctx(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	const writers = 8
	infos := make([]FileInfo, writers)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			for {
				v := d.Version()
				var (
					info FileInfo
					err  error
				)
				if i%2 == 0 {
					info, err = d.ReplaceContent(ctx(), fmt.Sprintf("writer %d", i), v)
				} else {
					info, err = d.ApplyChanges(ctx(), []diff.Operation{diff.NewInsert(0, fmt.Sprint(i))}, v)
				}
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				if err != nil {
					return err
				}
				infos[i] = info
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	seen := map[int64]bool{}
	for i, info := range infos {
		if seen[info.Version] {
			t.Errorf("writer %d: version %d returned twice", i, info.Version)
		}
		seen[info.Version] = true
		if info.Hash != hashes[info.Version] {
			t.Errorf("writer %d: info for v%d has hash %s, committed %s", i, info.Version, info.Hash, hashes[info.Version])
		}
	}
	if got := d.Version(); got != writers {
		t.Errorf("version = %d, want %d", got, writers)
	}
}

func TestDocument_CommitHook(t *testing.T) {
	var got []Snapshot
	reg := NewRegistry(NewMemoryBackend(), WithCommitHook(func(s Snapshot) {
		got = append(got, s)
	}))
	d, err := reg.Get(ctx(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	d.WriteFull(ctx(), "a", 0)
	d.WriteFull(ctx(), "b", 0) // conflict, no hook
	d.WriteFull(ctx(), "ab", 1)

	if len(got) != 2 {
		t.Fatalf("hook fired %d times, want 2", len(got))
	}
	if got[1].Content != "ab" || got[1].Version != 2 {
		t.Errorf("unexpected snapshot: %+v", got[1])
	}
}

func TestDocument_ConcurrentWritersSameVersion(t *testing.T) {
	backend := NewMemoryBackend()
	d := newTestDoc(t, backend, "alice")
	if _, err := d.WriteFull(ctx(), "base", 0); err != nil {
		t.Fatal(err)
	}

	const writers = 16
	var wins, conflicts atomic.Int32
	var g errgroup.Group
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		content := fmt.Sprintf("writer-%d", i)
		g.Go(func() error {
			<-start
			_, err := d.WriteFull(ctx(), content, 1)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrVersionConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if wins.Load() != 1 || conflicts.Load() != writers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins.Load(), conflicts.Load())
	}
	snap := d.Read()
	if snap.Version != 2 {
		t.Errorf("version = %d, want 2", snap.Version)
	}
	persisted, _, _ := backend.Load(ctx(), "alice")
	if persisted != snap.Content {
		t.Errorf("persisted %q, in memory %q", persisted, snap.Content)
	}
	if backend.Saves() != 2 {
		t.Errorf("saves = %d, want 2", backend.Saves())
	}
}

func TestDocument_ReadsNeverTorn(t *testing.T) {
	d := newTestDoc(t, NewMemoryBackend(), "alice")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if _, err := d.WriteFull(ctx(), fmt.Sprintf("v%d", i+1), int64(i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n; j++ {
				snap := d.Read()
				want := ""
				if snap.Version > 0 {
					want = fmt.Sprintf("v%d", snap.Version)
				}
				if snap.Content != want {
					t.Errorf("torn read: version %d content %q", snap.Version, snap.Content)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDocument_SequentialWrites(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		backend := NewMemoryBackend()
		d, err := NewRegistry(backend).Get(ctx(), "alice")
		if err != nil {
			t.Fatal(err)
		}

		writes := rapid.SliceOfN(rapid.String(), 1, 20).Draw(t, "writes")
		for i, content := range writes {
			var err error
			if rapid.Bool().Draw(t, "incremental") {
				_, err = d.WriteIncremental(ctx(), diff.Compute(d.Read().Content, content), int64(i))
			} else {
				_, err = d.WriteFull(ctx(), content, int64(i))
			}
			if err != nil {
				t.Fatalf("write %d: %v", i, err)
			}
		}

		snap := d.Read()
		if snap.Version != int64(len(writes)) {
			t.Fatalf("version = %d, want %d", snap.Version, len(writes))
		}
		if last := writes[len(writes)-1]; snap.Content != last {
			t.Fatalf("content = %q, want %q", snap.Content, last)
		}
	})
}
