package segmenter

import (
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/charges-audit/internal/domain/import/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rows(cells ...[]string) []model.RawRow {
	out := make([]model.RawRow, len(cells))
	for i, c := range cells {
		out[i] = model.RawRow{Cells: c, Source: "doc.pdf", Position: i + 1}
	}
	return out
}

func detailRow(unit string) []string {
	return []string{unit, "CA1", "", "", "10.00", ""}
}

func TestSegment_BlockForwardFill(t *testing.T) {
	in := rows(
		detailRow("000"), // before any header
		[]string{"CH - Chauffage", "", "", "", "", ""},
		detailRow("101"),
		detailRow("102"),
		[]string{"EF - Eau froide", "", "", "", "", ""},
		detailRow("103"),
	)

	res := New(Config{Mode: ModeBlock, TruncateOnRepeat: true}, testLogger()).Segment(in)

	require.Len(t, res.Headers, 2)
	assert.Equal(t, Header{Code: "CH", Label: "Chauffage", Position: 2}, res.Headers[0])
	assert.Equal(t, Header{Code: "EF", Label: "Eau froide", Position: 5}, res.Headers[1])

	require.Len(t, res.Details, 4)
	assert.False(t, res.Details[0].Attributed())
	assert.Equal(t, "CH", res.Details[1].Context)
	assert.Equal(t, "CH", res.Details[2].Context)
	assert.Equal(t, "EF", res.Details[3].Context)
	assert.Nil(t, res.Truncated)
}

func TestSegment_DuplicateHeaderTruncates(t *testing.T) {
	var cells [][]string
	for pos := 1; pos <= 60; pos++ {
		switch pos {
		case 3, 50:
			cells = append(cells, []string{"ABC - Foo", "", "", "", "", ""})
		default:
			cells = append(cells, detailRow("1"))
		}
	}

	res := New(Config{Mode: ModeBlock, TruncateOnRepeat: true}, testLogger()).Segment(rows(cells...))

	require.Len(t, res.Headers, 1)
	assert.Equal(t, "ABC", res.Headers[0].Code)
	require.NotNil(t, res.Truncated)
	assert.Equal(t, 50, res.Truncated.Position)
	assert.Equal(t, 11, res.Truncated.Dropped)

	for _, d := range res.Details {
		assert.Less(t, d.Row.Position, 50)
	}
	// rows 1-2 come before the header, rows 4-49 after it
	assert.Len(t, res.Details, 2+46)
}

func TestSegment_RepeatWithoutTruncation(t *testing.T) {
	pattern := regexp.MustCompile(`^([A-Z][A-Z\s]+)$`)
	in := rows(
		[]string{"EAU FROIDE", ""},
		[]string{"101", "x"},
		[]string{"EAU CHAUDE", ""},
		[]string{"102", "x"},
		[]string{"EAU FROIDE", ""},
		[]string{"103", "x"},
	)

	res := New(Config{Mode: ModeBlock, HeaderPattern: pattern}, testLogger()).Segment(in)

	require.Len(t, res.Headers, 2)
	assert.Equal(t, Header{Code: "EAU FROIDE", Label: "EAU FROIDE", Position: 1}, res.Headers[0])
	require.Len(t, res.Details, 3)
	assert.Equal(t, "EAU FROIDE", res.Details[2].Context)
	assert.Nil(t, res.Truncated)
}

func TestSegment_WideRowsDiscarded(t *testing.T) {
	in := rows(
		[]string{"CH - Chauffage", "", "", "", "", "", ""},
		[]string{"101", "CA", "a", "b", "10.00", "1", "x"},
		[]string{"102", "CA", "", "", "10.00", "", ""},
		[]string{"103", "nan", "None", "", "10.00", "", ""},
	)

	res := New(Config{Mode: ModeBlock, WideRowThreshold: 7}, testLogger()).Segment(in)

	require.Len(t, res.Discarded, 1)
	assert.Equal(t, 2, res.Discarded[0].Position)
	require.Len(t, res.Details, 2)
	assert.Equal(t, 3, res.Details[0].Row.Position)
}

func TestSegment_WideRowThresholdDisabled(t *testing.T) {
	in := rows([]string{"A01 - Water", "INV1", "J1", "601000", "100.00", "desc", "ref1"})
	res := New(Config{Mode: ModeInline}, testLogger()).Segment(in)
	assert.Empty(t, res.Discarded)
	assert.Len(t, res.Details, 1)
}

func TestSegment_InlineForwardFill(t *testing.T) {
	in := rows(
		[]string{"", "INV0"},
		[]string{"A01 - Water", "INV1"},
		[]string{"nan", "INV2"},
		[]string{"A01 - Water", "INV3"},
		[]string{"None", "INV4"},
		[]string{"B02 - Heating", "INV5"},
		[]string{"", "INV6"},
	)

	res := New(Config{Mode: ModeInline, TruncateOnRepeat: true}, testLogger()).Segment(in)

	require.Len(t, res.Headers, 2)
	assert.Equal(t, "A01", res.Headers[0].Code)
	assert.Equal(t, "Water", res.Headers[0].Label)
	assert.Equal(t, "B02", res.Headers[1].Code)

	want := []string{"", "A01", "A01", "A01", "A01", "B02", "B02"}
	require.Len(t, res.Details, len(want))
	for i, d := range res.Details {
		assert.Equal(t, want[i], d.Context, "row %d", i+1)
	}
}

func TestSegment_InlineReturnToEarlierSectionTruncates(t *testing.T) {
	in := rows(
		[]string{"A01 - Water", "INV1"},
		[]string{"B02 - Heating", "INV2"},
		[]string{"A01 - Water", "INV3"},
		[]string{"", "INV4"},
	)

	res := New(Config{Mode: ModeInline, TruncateOnRepeat: true}, testLogger()).Segment(in)

	require.NotNil(t, res.Truncated)
	assert.Equal(t, "A01", res.Truncated.Code)
	assert.Equal(t, 3, res.Truncated.Position)
	assert.Len(t, res.Details, 2)
	assert.Len(t, res.Headers, 2)
}

func TestSegment_InlineFreeTextSection(t *testing.T) {
	in := rows([]string{"ENTRETIEN ASCENSEUR", "INV1"}, []string{"", "INV2"})
	res := New(Config{Mode: ModeInline}, testLogger()).Segment(in)

	require.Len(t, res.Headers, 1)
	assert.Equal(t, "ENTRETIEN ASCENSEUR", res.Headers[0].Code)
	assert.Equal(t, "ENTRETIEN ASCENSEUR", res.Details[1].Context)
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", " ", "nan", "NaN", "None", "null"} {
		assert.True(t, IsMissing(v), v)
	}
	assert.False(t, IsMissing("0"))
	assert.False(t, IsMissing("A01"))
}
