package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStorage opens a storage in a per-test temp directory.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetGetHas(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("a:key")
	value := []byte("value")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	ok, err := s.Has(key)
	if err != nil || !ok {
		t.Errorf("Has = %v, %v; want true", ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}

	ok, err := s.Has([]byte("missing"))
	if err != nil || ok {
		t.Errorf("Has = %v, %v; want false", ok, err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("to-delete")

	if err := s.Set(key, []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got, _ := s.Get(key); got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestBatchCommitIsAtomic(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Set([]byte("old"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := s.NewBatch()
	b.Set([]byte("b:1"), []byte("one"))
	b.Set([]byte("b:2"), []byte("two"))
	b.Delete([]byte("old"))

	if b.Len() != 3 {
		t.Errorf("batch len = %d, want 3", b.Len())
	}

	if got, _ := s.Get([]byte("b:1")); got != nil {
		t.Error("batch write visible before commit")
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	for k, want := range map[string]string{"b:1": "one", "b:2": "two"} {
		got, _ := s.Get([]byte(k))
		if string(got) != want {
			t.Errorf("Get(%s) = %q, want %q", k, got, want)
		}
	}

	if got, _ := s.Get([]byte("old")); got != nil {
		t.Error("batched delete not applied")
	}
}

func TestBatchCloseDiscards(t *testing.T) {
	s := newTestStorage(t)

	b := s.NewBatch()
	b.Set([]byte("k"), []byte("v"))
	b.Close()

	if got, _ := s.Get([]byte("k")); got != nil {
		t.Error("closed batch was applied")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	for i := 0; i < 5; i++ {
		s.Set([]byte(fmt.Sprintf("v:%d", i)), []byte{byte(i)})
	}
	s.Set([]byte("a:other"), []byte("x"))
	s.Set([]byte("w:other"), []byte("x"))

	var keys []string
	err := s.IteratePrefix([]byte("v:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	want := []string{"v:0", "v:1", "v:2", "v:3", "v:4"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestIteratePrefixStopsOnError(t *testing.T) {
	s := newTestStorage(t)

	s.Set([]byte("p:1"), nil)
	s.Set([]byte("p:2"), nil)

	stop := errors.New("stop")
	calls := 0

	err := s.IteratePrefix([]byte("p:"), func(key, value []byte) error {
		calls++
		return stop
	})

	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want stop", err)
	}

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIterateRange(t *testing.T) {
	s := newTestStorage(t)

	for i := byte(0); i < 10; i++ {
		s.Set([]byte{'r', i}, []byte{i})
	}

	var got []byte
	err := s.IterateRange([]byte{'r', 3}, []byte{'r', 6}, func(key, value []byte) error {
		got = append(got, value[0])
		return nil
	})
	if err != nil {
		t.Fatalf("IterateRange failed: %v", err)
	}

	if !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Errorf("range = %v, want [3 4 5]", got)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("v:"), []byte("v;")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}

	for _, c := range cases {
		if got := PrefixUpperBound(c.in); !bytes.Equal(got, c.want) {
			t.Errorf("PrefixUpperBound(%x) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := Open(path, Options{SyncWrites: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Set([]byte("k"), []byte("durable")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, _ := s.Get([]byte("k"))
	if string(got) != "durable" {
		t.Errorf("after reopen Get = %q", got)
	}
}

func TestCloseTwice(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second close = %v, want ErrClosed", err)
	}
}

func BenchmarkBatchCommit(b *testing.B) {
	s, err := New(filepath.Join(b.TempDir(), "db"))
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	defer s.Close()

	value := make([]byte, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch := s.NewBatch()
		batch.Set([]byte(fmt.Sprintf("v:%d:a", i)), value)
		batch.Set([]byte(fmt.Sprintf("v:%d:b", i)), value)
		if err := batch.Commit(); err != nil {
			b.Fatalf("commit: %v", err)
		}
	}
}
