package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"salesboard/internal/store"
)

type fakeFinder struct {
	latest map[string]string
	err    error
}

func (f fakeFinder) LatestInvoiceNumber(_ context.Context, prefix string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	n, ok := f.latest[prefix]
	if !ok {
		return "", store.ErrNotFound
	}
	return n, nil
}

func TestPrefixAndFormat(t *testing.T) {
	at := time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)
	if got := Prefix("INV", at); got != "INV/2026/03" {
		t.Fatalf("unexpected prefix %s", got)
	}
	if got := Format("INV/2026/03", 7); got != "INV/2026/03/007" {
		t.Fatalf("unexpected number %s", got)
	}
	if got := Format("INV/2026/03", 1234); got != "INV/2026/03/1234" {
		t.Fatalf("padding must not truncate, got %s", got)
	}
}

func TestSplit(t *testing.T) {
	prefix, seq, err := Split("INV/2026/03/042")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if prefix != "INV/2026/03" || seq != 42 {
		t.Fatalf("unexpected split %s %d", prefix, seq)
	}

	for _, bad := range []string{"", "INV/2026/03", "INV/26/03/001", "INV/2026/13/001", "INV/2026/03/01", "INV/2026/03/abc", "/2026/03/001", "INV/2026/03/000"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestSplitRejectsNonCanonicalPadding(t *testing.T) {
	for _, bad := range []string{"INV/2026/10/0005", "INV/2026/10/00005", "INV/2026/10/01000", "INV/2026/10/+05"} {
		if _, _, err := Split(bad); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected %q to be malformed, got %v", bad, err)
		}
	}
	for _, good := range []string{"INV/2026/10/005", "INV/2026/10/010", "INV/2026/10/1000"} {
		if !Valid(good) {
			t.Fatalf("expected %q to be valid", good)
		}
	}
}

func TestNextNumberStartsAtOne(t *testing.T) {
	a := NewAllocator(fakeFinder{}, "")
	got, err := a.NextNumber(context.Background(), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if got != "INV/2026/10/001" {
		t.Fatalf("expected INV/2026/10/001, got %s", got)
	}
}

func TestNextNumberIncrementsLatest(t *testing.T) {
	a := NewAllocator(fakeFinder{latest: map[string]string{"INV/2026/10": "INV/2026/10/009"}}, "INV")
	got, err := a.NextNumber(context.Background(), time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if got != "INV/2026/10/010" {
		t.Fatalf("expected INV/2026/10/010, got %s", got)
	}
}

func TestNextNumberScopedPerMonth(t *testing.T) {
	a := NewAllocator(fakeFinder{latest: map[string]string{"INV/2026/09": "INV/2026/09/120"}}, "INV")
	got, err := a.NextNumber(context.Background(), time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if got != "INV/2026/10/001" {
		t.Fatalf("a new month must restart at 001, got %s", got)
	}
}

func TestNextNumberPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	a := NewAllocator(fakeFinder{err: boom}, "INV")
	if _, err := a.NextNumber(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
