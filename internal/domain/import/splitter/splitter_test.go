package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

type fakeSource struct {
	pages []Page
	err   error
}

func (f fakeSource) Pages([]byte) ([]Page, error) {
	return f.pages, f.err
}

type fakeMaterializer struct {
	calls [][]int
	err   error
}

func (f *fakeMaterializer) Materialize(_ []byte, pages []int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, append([]int(nil), pages...))
	return []byte(fmt.Sprint(pages)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func texts(t ...string) []Page {
	out := make([]Page, len(t))
	for i, s := range t {
		out[i] = Page{Index: i, Text: s}
	}
	return out
}

func facfou(id string) string {
	return fmt.Sprintf("1) FACFOU01 %s/2024 FOURNISSEUR FACFOU01", id)
}

func bontrv(id string) string {
	return fmt.Sprintf("12 ) BONTRV01 %s/X BON DE TRAVAUX BONTRV01", id)
}

func TestDetectMarker(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  Marker
		found bool
	}{
		{"supplier invoice", "header\n" + facfou("F100") + "\nbody", Marker{model.BundleSupplierInvoice, "F100"}, true},
		{"work order", bontrv("BT77"), Marker{model.BundleWorkOrder, "BT77"}, true},
		{"work order wins", facfou("F1") + "\n" + bontrv("B2"), Marker{model.BundleWorkOrder, "B2"}, true},
		{"lowercase identifier rejected", "1) FACFOU01 abc/ FACFOU01", Marker{}, false},
		{"no closing tag", "1) FACFOU01 F1/ nothing", Marker{}, false},
		{"plain page", "Total TTC 120.00", Marker{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectMarker(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_PagesGroupedByIdentifier(t *testing.T) {
	// A A B C C C
	src := fakeSource{pages: texts(
		facfou("A1"),
		"continued",
		bontrv("B2"),
		facfou("C3"),
		facfou("C3"),
		"annex",
	)}
	mat := &fakeMaterializer{}

	res, err := New(src, mat, testLogger()).Split(context.Background(), []byte("%PDF"), "GED001.pdf")
	require.NoError(t, err)

	require.Len(t, res.Bundles, 3)
	assert.Equal(t, "A1", res.Bundles[0].Identifier)
	assert.Equal(t, []int{0, 1}, res.Bundles[0].Pages)
	assert.Equal(t, model.BundleSupplierInvoice, res.Bundles[0].Kind)

	assert.Equal(t, "B2", res.Bundles[1].Identifier)
	assert.Equal(t, model.BundleWorkOrder, res.Bundles[1].Kind)
	assert.Equal(t, []int{2}, res.Bundles[1].Pages)

	assert.Equal(t, []int{3, 4, 5}, res.Bundles[2].Pages)
	assert.Equal(t, [][]int{{0, 1}, {2}, {3, 4, 5}}, mat.calls)
	assert.Equal(t, []byte("[3 4 5]"), res.Bundles[2].Content)

	for _, b := range res.Bundles {
		assert.Equal(t, 1, b.Occurrence)
		assert.NotEmpty(t, b.ID)
	}
	assert.Contains(t, res.Bundles[0].Text, "continued")
}

func TestSplit_PagesAreContiguousAndComplete(t *testing.T) {
	src := fakeSource{pages: texts(
		"cover page",
		facfou("A1"), "", "",
		facfou("B1"),
		bontrv("C1"), "x",
	)}

	res, err := New(src, &fakeMaterializer{}, testLogger()).Split(context.Background(), nil, "GED001.pdf")
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.OrphanPages)

	var covered []int
	for _, b := range res.Bundles {
		for i := 1; i < len(b.Pages); i++ {
			assert.Equal(t, b.Pages[i-1]+1, b.Pages[i], "bundle %s not contiguous", b.Identifier)
		}
		covered = append(covered, b.Pages...)
	}
	// every page after the first marker lands in exactly one bundle
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, covered)
}

func TestSplit_IdentifierReappearance(t *testing.T) {
	src := fakeSource{pages: texts(facfou("A1"), facfou("B1"), facfou("A1"))}

	res, err := New(src, &fakeMaterializer{}, testLogger()).Split(context.Background(), nil, "GED001.pdf")
	require.NoError(t, err)

	require.Len(t, res.Bundles, 3)
	assert.Equal(t, 1, res.Bundles[0].Occurrence)
	assert.Equal(t, 2, res.Bundles[2].Occurrence)
	assert.Equal(t, "A1_FACFOU01_2.pdf", res.Bundles[2].FileName())
}

func TestSplit_UnreadablePageContinuesBundle(t *testing.T) {
	pages := texts(facfou("A1"), "", facfou("B1"))
	pages[1].Err = errors.New("bad stream")

	res, err := New(fakeSource{pages: pages}, &fakeMaterializer{}, testLogger()).Split(context.Background(), nil, "GED001.pdf")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, res.UnreadablePages)
	require.Len(t, res.Bundles, 2)
	assert.Equal(t, []int{0, 1}, res.Bundles[0].Pages)
}

func TestSplit_NoMarkers(t *testing.T) {
	res, err := New(fakeSource{pages: texts("a", "b")}, &fakeMaterializer{}, testLogger()).Split(context.Background(), nil, "GED001.pdf")
	require.NoError(t, err)
	assert.Empty(t, res.Bundles)
	assert.Equal(t, []int{0, 1}, res.OrphanPages)
}

func TestSplit_Errors(t *testing.T) {
	t.Run("unreadable document", func(t *testing.T) {
		_, err := New(fakeSource{err: errors.New("not a pdf")}, &fakeMaterializer{}, testLogger()).
			Split(context.Background(), nil, "GED001.pdf")
		assert.ErrorContains(t, err, "not a pdf")
	})

	t.Run("materialization failure", func(t *testing.T) {
		_, err := New(fakeSource{pages: texts(facfou("A1"))}, &fakeMaterializer{err: errors.New("disk full")}, testLogger()).
			Split(context.Background(), nil, "GED001.pdf")
		assert.ErrorContains(t, err, "disk full")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(fakeSource{pages: texts(facfou("A1"))}, &fakeMaterializer{}, testLogger()).
			Split(ctx, nil, "GED001.pdf")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPageSelection(t *testing.T) {
	assert.Equal(t, []string{"1-3"}, PageSelection([]int{0, 1, 2}))
	assert.Equal(t, []string{"5"}, PageSelection([]int{4}))
	assert.Equal(t, []string{"1-2", "4", "6-7"}, PageSelection([]int{0, 1, 3, 5, 6}))
	assert.Empty(t, PageSelection(nil))
}

func TestTextSource_EmptyContent(t *testing.T) {
	_, err := NewTextSource().Pages(nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestTextSource_GarbageContent(t *testing.T) {
	_, err := NewTextSource().Pages([]byte("definitely not a pdf"))
	assert.Error(t, err)
}
