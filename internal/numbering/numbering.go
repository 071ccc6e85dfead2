// Package numbering formats and allocates invoice numbers of the form
// PREFIX/YYYY/MM/SEQ, where SEQ is scoped to the calendar month and padded
// to at least three digits.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"salesboard/internal/store"
)

const DefaultBase = "INV"

var ErrMalformed = errors.New("malformed invoice number")

// Prefix returns BASE/YYYY/MM for the month containing t.
func Prefix(base string, t time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d", base, t.Year(), int(t.Month()))
}

func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s/%03d", prefix, seq)
}

// Split breaks a number into its month prefix and sequence. Only the
// canonical spelling is accepted: INV/2026/10/0005 is malformed because
// sequence 5 is written INV/2026/10/005.
func Split(number string) (string, int64, error) {
	parts := strings.Split(number, "/")
	if len(parts) != 4 {
		return "", 0, ErrMalformed
	}
	base, year, month, seqRaw := parts[0], parts[1], parts[2], parts[3]
	if base == "" || len(year) != 4 || len(month) != 2 || len(seqRaw) < 3 {
		return "", 0, ErrMalformed
	}
	if _, err := strconv.Atoi(year); err != nil {
		return "", 0, ErrMalformed
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", 0, ErrMalformed
	}
	seq, err := strconv.ParseInt(seqRaw, 10, 64)
	if err != nil || seq < 1 {
		return "", 0, ErrMalformed
	}
	prefix := strings.Join(parts[:3], "/")
	if Format(prefix, seq) != number {
		return "", 0, ErrMalformed
	}
	return prefix, seq, nil
}

func ParseSequence(number string) (int64, error) {
	_, seq, err := Split(number)
	return seq, err
}

func Valid(number string) bool {
	_, _, err := Split(number)
	return err == nil
}

// LatestFinder returns the greatest persisted number sharing prefix, or
// store.ErrNotFound when the month has no invoices yet.
type LatestFinder interface {
	LatestInvoiceNumber(ctx context.Context, prefix string) (string, error)
}

// Allocator computes the next number by reading persisted state. It takes no
// lock: two callers in the same month can compute the same number, and the
// loser's insert fails with store.ErrConflict.
type Allocator struct {
	finder LatestFinder
	base   string
}

func NewAllocator(finder LatestFinder, base string) *Allocator {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBase
	}
	return &Allocator{finder: finder, base: base}
}

func (a *Allocator) Base() string {
	return a.base
}

func (a *Allocator) PrefixFor(now time.Time) string {
	return Prefix(a.base, now)
}

func (a *Allocator) NextNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := a.PrefixFor(now)

	latest, err := a.finder.LatestInvoiceNumber(ctx, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Format(prefix, 1), nil
		}
		return "", fmt.Errorf("find latest invoice number: %w", err)
	}

	seq, err := ParseSequence(latest)
	if err != nil {
		return "", fmt.Errorf("latest invoice number %q: %w", latest, err)
	}
	return Format(prefix, seq+1), nil
}
