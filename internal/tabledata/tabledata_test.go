package tabledata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpuslab.systems/driftline/internal/db"
)

func TestUpsertSQL(t *testing.T) {
	sql := subtitlesSpec.upsertSQL()
	assert.Equal(t,
		"INSERT INTO clip_subtitles (meta_id, lang, year, month, date, subtitle_text, source, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) "+
			"ON CONFLICT (meta_id, lang, year, month, date) "+
			"DO UPDATE SET subtitle_text = EXCLUDED.subtitle_text, source = EXCLUDED.source, updated_at = NOW()",
		sql)
}

func TestUpsertSQLColumnsMatchValues(t *testing.T) {
	assert.Len(t, MetadataRow{}.Values(2025, 1, 31), len(metadataSpec.Cols))
	assert.Len(t, CommentRow{}.Values(2025, 1, 31), len(commentsSpec.Cols))
	assert.Len(t, SubtitleRow{}.Values(2025, 1, 31), len(subtitlesSpec.Cols))
}

func TestDateFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    db.Day
		wantErr bool
	}{
		{
			name:  "metadata drop",
			input: "2025-01-31_metadata.parquet",
			want:  db.Day{Year: 2025, Month: 1, Date: 31},
		},
		{
			name:  "date embedded mid-name",
			input: "region_us_2024-12-01_comments.parquet",
			want:  db.Day{Year: 2024, Month: 12, Date: 1},
		},
		{
			name:    "no date",
			input:   "comments.parquet",
			wantErr: true,
		},
		{
			name:    "impossible month",
			input:   "2025-44-01_metadata.parquet",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dateFromFilename(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDedupeKeepLast(t *testing.T) {
	day := db.Day{Year: 2025, Month: 1, Date: 31}
	otherDay := db.Day{Year: 2025, Month: 2, Date: 1}

	entries := []entry[MetadataRow]{
		{row: MetadataRow{MetaID: "a", Country: "old"}, day: day},
		{row: MetadataRow{MetaID: "b"}, day: day},
		{row: MetadataRow{MetaID: "a", Country: "new"}, day: day},
		{row: MetadataRow{MetaID: "a"}, day: otherDay}, // same key, other day: kept
	}

	got := dedupeKeepLast(entries)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].row.MetaID)
	assert.Equal(t, "new", got[0].row.Country, "last occurrence wins")
	assert.Equal(t, "b", got[1].row.MetaID)
	assert.Equal(t, otherDay, got[2].day)
}

func TestReadParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2025-01-31_comments.parquet")

	rows := []CommentRow{
		{CommentID: "c1", MetaID: "m1", CommentText: "first", DiggCount: 3},
		{CommentID: "c2", MetaID: "m1", CommentText: "second"},
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	writer := parquet.NewGenericWriter[CommentRow](f)
	_, err = writer.Write(rows)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	got, err := readParquet[CommentRow](path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].CommentID)
	assert.Equal(t, "first", got[0].CommentText)
	assert.Equal(t, int64(3), got[0].DiggCount)
}
