package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseStore runs the shared Store contract against a backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "accessToken", []byte("abc")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := s.Get(ctx, "accessToken")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("expected abc, got %q", got)
	}

	if err := s.Set(ctx, "accessToken", []byte("def")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = s.Get(ctx, "accessToken")
	if string(got) != "def" {
		t.Errorf("expected def after overwrite, got %q", got)
	}

	if err := s.Delete(ctx, "accessToken"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "accessToken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error
	if err := s.Delete(ctx, "accessToken"); err != nil {
		t.Errorf("expected no error deleting missing key, got %v", err)
	}
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_Watch(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	m.Set(ctx, "alertSoundEnabled", []byte("false"))
	c := waitChange(t, ch)
	if c.Key != "alertSoundEnabled" || string(c.Value) != "false" || c.Deleted {
		t.Errorf("unexpected change: %+v", c)
	}

	m.Delete(ctx, "alertSoundEnabled")
	c = waitChange(t, ch)
	if c.Key != "alertSoundEnabled" || !c.Deleted {
		t.Errorf("expected delete change, got %+v", c)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestFile_Contract(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "console.json"), testLogger())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, f)
}

func TestFile_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.json")
	a, _ := NewFile(path, testLogger())
	b, _ := NewFile(path, testLogger())
	ctx := context.Background()

	if err := a.Set(ctx, "refreshToken", []byte("r1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := b.Get(ctx, "refreshToken")
	if err != nil {
		t.Fatalf("get from second handle: %v", err)
	}
	if string(got) != "r1" {
		t.Errorf("expected r1, got %q", got)
	}
}

func TestFile_WatchSeesOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.json")
	watcherSide, _ := NewFile(path, testLogger())
	writerSide, _ := NewFile(path, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := watcherSide.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := writerSide.Set(ctx, "alertSoundEnabled", []byte("false")); err != nil {
		t.Fatalf("set: %v", err)
	}

	c := waitChange(t, ch)
	if c.Key != "alertSoundEnabled" || string(c.Value) != "false" {
		t.Errorf("unexpected change: %+v", c)
	}
}

func TestDiff(t *testing.T) {
	prev := map[string]string{"a": "1", "b": "2"}
	next := map[string]string{"a": "1", "b": "3", "c": "4"}

	changes := diff(prev, next)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}

	changes = diff(next, map[string]string{})
	if len(changes) != 3 {
		t.Fatalf("expected 3 deletions, got %d", len(changes))
	}
	for _, c := range changes {
		if !c.Deleted {
			t.Errorf("expected deletion, got %+v", c)
		}
	}
}

func testSealKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealed_Contract(t *testing.T) {
	s, err := Sealed(NewMemory(), testSealKey())
	if err != nil {
		t.Fatalf("sealed: %v", err)
	}
	exerciseStore(t, s)
}

func TestSealed_ValuesAreEncrypted(t *testing.T) {
	inner := NewMemory()
	s, _ := Sealed(inner, testSealKey())
	ctx := context.Background()

	s.Set(ctx, "accessToken", []byte("plain-token"))

	raw, err := inner.Get(ctx, "accessToken")
	if err != nil {
		t.Fatalf("inner get: %v", err)
	}
	if bytes.Contains(raw, []byte("plain-token")) {
		t.Error("token stored in plaintext")
	}

	// A value moved to another key must not unseal
	inner.Set(ctx, "refreshToken", raw)
	if _, err := s.Get(ctx, "refreshToken"); !errors.Is(err, ErrUnsealFailed) {
		t.Errorf("expected ErrUnsealFailed for moved value, got %v", err)
	}

	// Tampered value must not unseal
	tampered := bytes.Clone(raw)
	tampered[len(tampered)-3] ^= 0x01
	inner.Set(ctx, "accessToken", tampered)
	if _, err := s.Get(ctx, "accessToken"); err == nil {
		t.Error("expected error for tampered value")
	}
}

func TestSealed_WatchUnseals(t *testing.T) {
	s, _ := Sealed(NewMemory(), testSealKey())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	s.Set(ctx, "alertSoundEnabled", []byte("true"))

	c := waitChange(t, ch)
	if string(c.Value) != "true" {
		t.Errorf("expected unsealed value, got %q", c.Value)
	}
}

func TestParseSealKey(t *testing.T) {
	if _, err := ParseSealKey(hex.EncodeToString(testSealKey())); err != nil {
		t.Errorf("expected valid key, got %v", err)
	}
	if _, err := ParseSealKey("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := ParseSealKey("not-hex"); err == nil {
		t.Error("expected error for non-hex key")
	}
}

func TestNew_Backends(t *testing.T) {
	s, err := New(Config{Backend: "memory"}, testLogger())
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	s.Close()

	s, err = New(Config{Backend: "file", FilePath: filepath.Join(t.TempDir(), "c.json"),
		SealKey: hex.EncodeToString(testSealKey())}, testLogger())
	if err != nil {
		t.Fatalf("sealed file backend: %v", err)
	}
	s.Close()

	if _, err := New(Config{Backend: "etcd"}, testLogger()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestFile_ConcurrentWritersKeepEveryKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.json")
	a, _ := NewFile(path, testLogger())
	b, _ := NewFile(path, testLogger())
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	const perHandle = 20
	var wg sync.WaitGroup
	for name, store := range map[string]*File{"a": a, "b": b} {
		wg.Add(1)
		go func(name string, store *File) {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				if err := store.Set(ctx, fmt.Sprintf("%s-%d", name, i), []byte("v")); err != nil {
					t.Errorf("set %s-%d: %v", name, i, err)
				}
			}
		}(name, store)
	}
	wg.Wait()

	for _, name := range []string{"a", "b"} {
		for i := 0; i < perHandle; i++ {
			key := fmt.Sprintf("%s-%d", name, i)
			if _, err := a.Get(ctx, key); err != nil {
				t.Errorf("expected %s kept, got %v", key, err)
			}
		}
	}
}

func TestFile_LockHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.json")
	f, _ := NewFile(path, testLogger())
	defer f.Close()

	holder := flock.New(path + ".lock")
	if err := holder.Lock(); err != nil {
		t.Fatalf("taking lock: %v", err)
	}
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.Set(ctx, "accessToken", []byte("abc")); err == nil {
		t.Error("expected error while another writer holds the lock")
	}
}
