package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetStrip(t *testing.T) {
	s := newTestStore(t)

	strip := &Strip{Host: "192.168.1.40", Name: "Kitchen Cabinet"}
	if err := s.SaveStrip(strip); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetStrip(strip.Host)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *strip {
		t.Errorf("strip = %+v, want %+v", got, strip)
	}
}

func TestSaveStripEmptyHost(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveStrip(&Strip{Name: "nameless"}); err == nil {
		t.Fatal("expected error for empty host")
	}
}

func TestDeleteStrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveStrip(&Strip{Host: "192.168.1.40", Name: "Desk"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteStrip("192.168.1.40"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetStrip("192.168.1.40"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteStrip("192.168.1.40"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListStrips(t *testing.T) {
	s := newTestStore(t)

	strips := []*Strip{
		{Host: "10.0.0.1", Name: "One"},
		{Host: "10.0.0.2", Name: "Two"},
		{Host: "10.0.0.3:8080", Name: "Three"},
	}
	for _, st := range strips {
		if err := s.SaveStrip(st); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListStrips()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]string)
	for _, st := range list {
		found[st.Host] = st.Name
	}
	for _, st := range strips {
		if found[st.Host] != st.Name {
			t.Errorf("strip %s: name = %q, want %q", st.Host, found[st.Host], st.Name)
		}
	}
}

func TestUpdateStrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveStrip(&Strip{Host: "10.0.0.1", Name: "Old"}); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateStrip("10.0.0.1", func(st *Strip) error {
		st.Name = "New"
		st.Host = "ignored"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetStrip("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "New" || got.Host != "10.0.0.1" {
		t.Errorf("strip = %+v", got)
	}

	if err := s.UpdateStrip("10.9.9.9", func(*Strip) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	boom := errors.New("boom")
	if err := s.UpdateStrip("10.0.0.1", func(*Strip) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
