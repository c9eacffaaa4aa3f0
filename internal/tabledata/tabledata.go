// Package tabledata loads the per-day parquet sidecar drops, the clip
// metadata, comments and subtitles published next to the audio archives,
// into Postgres. Rows are upserted on their natural keys so re-running a
// day refreshes instead of duplicating.
package tabledata

import (
	"fmt"
	"strings"

	"corpuslab.systems/driftline/pkg/utils/language"
)

// Spec describes one sidecar table: which files feed it, which columns it
// has, and which of those form the natural key.
type Spec struct {
	Table   string
	Suffix  string   // filename suffix, e.g. "_metadata.parquet"
	KeyCols []string // conflict target, always includes year/month/date
	Cols    []string // full insert column list, key columns first
}

// upsertSQL renders the static INSERT ... ON CONFLICT statement for the
// table. Non-key columns are refreshed from the incoming row.
func (s Spec) upsertSQL() string {
	placeholders := make([]string, len(s.Cols))
	for i := range s.Cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	key := make(map[string]bool, len(s.KeyCols))
	for _, c := range s.KeyCols {
		key[c] = true
	}
	var updates []string
	for _, c := range s.Cols {
		if !key[c] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	updates = append(updates, "updated_at = NOW()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s, updated_at) VALUES (%s, NOW()) ON CONFLICT (%s) DO UPDATE SET %s",
		s.Table,
		strings.Join(s.Cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(s.KeyCols, ", "),
		strings.Join(updates, ", "),
	)
}

var metadataSpec = Spec{
	Table:   "clip_metadata",
	Suffix:  "_metadata.parquet",
	KeyCols: []string{"meta_id", "year", "month", "date"},
	Cols: []string{
		"meta_id", "year", "month", "date",
		"author_id", "author_nickname", "author_verified",
		"music_id", "music_title",
		"stats_diggcount", "stats_sharecount", "stats_commentcount", "stats_playcount",
		"video_duration", "country", "processed_desc", "collection_timestamp",
	},
}

var commentsSpec = Spec{
	Table:   "clip_comments",
	Suffix:  "_comments.parquet",
	KeyCols: []string{"comment_id", "meta_id", "year", "month", "date"},
	Cols: []string{
		"comment_id", "meta_id", "year", "month", "date",
		"author_id", "comment_text", "digg_count", "create_time",
	},
}

var subtitlesSpec = Spec{
	Table:   "clip_subtitles",
	Suffix:  "_subtitles.parquet",
	KeyCols: []string{"meta_id", "lang", "year", "month", "date"},
	Cols: []string{
		"meta_id", "lang", "year", "month", "date",
		"subtitle_text", "source",
	},
}

// MetadataRow mirrors one record of a *_metadata.parquet drop. Boolean
// flags arrive as integers in the drops and are normalized on insert.
type MetadataRow struct {
	MetaID              string  `parquet:"meta_id"`
	AuthorID            string  `parquet:"author_id,optional"`
	AuthorNickname      string  `parquet:"author_nickname,optional"`
	AuthorVerified      int64   `parquet:"author_verified,optional"`
	MusicID             string  `parquet:"music_id,optional"`
	MusicTitle          string  `parquet:"music_title,optional"`
	StatsDiggCount      int64   `parquet:"stats_diggcount,optional"`
	StatsShareCount     int64   `parquet:"stats_sharecount,optional"`
	StatsCommentCount   int64   `parquet:"stats_commentcount,optional"`
	StatsPlayCount      int64   `parquet:"stats_playcount,optional"`
	VideoDuration       float64 `parquet:"video_duration,optional"`
	Country             string  `parquet:"country,optional"`
	ProcessedDesc       string  `parquet:"processed_desc,optional"`
	CollectionTimestamp int64   `parquet:"collection_timestamp,optional"`
}

func (r MetadataRow) Key() string { return r.MetaID }

func (r MetadataRow) Values(year, month, date int) []any {
	return []any{
		r.MetaID, year, month, date,
		r.AuthorID, r.AuthorNickname, r.AuthorVerified != 0,
		r.MusicID, r.MusicTitle,
		r.StatsDiggCount, r.StatsShareCount, r.StatsCommentCount, r.StatsPlayCount,
		r.VideoDuration, r.Country, r.ProcessedDesc, r.CollectionTimestamp,
	}
}

// CommentRow mirrors one record of a *_comments.parquet drop.
type CommentRow struct {
	CommentID   string `parquet:"cid"`
	MetaID      string `parquet:"meta_id"`
	AuthorID    string `parquet:"author_id,optional"`
	CommentText string `parquet:"comment_text,optional"`
	DiggCount   int64  `parquet:"digg_count,optional"`
	CreateTime  int64  `parquet:"create_time,optional"`
}

func (r CommentRow) Key() string { return r.CommentID + "|" + r.MetaID }

func (r CommentRow) Values(year, month, date int) []any {
	return []any{
		r.CommentID, r.MetaID, year, month, date,
		r.AuthorID, r.CommentText, r.DiggCount, r.CreateTime,
	}
}

// SubtitleRow mirrors one record of a *_subtitles.parquet drop.
type SubtitleRow struct {
	MetaID       string `parquet:"meta_id"`
	Lang         string `parquet:"subtitle_lang,optional"`
	SubtitleText string `parquet:"subtitle_text,optional"`
	Source       string `parquet:"source,optional"`
}

// Key and Values normalize the language tag so the same subtitle arriving
// as "en_US" and "en-US" lands on one row.
func (r SubtitleRow) Key() string { return r.MetaID + "|" + language.Normalize(r.Lang) }

func (r SubtitleRow) Values(year, month, date int) []any {
	return []any{
		r.MetaID, language.Normalize(r.Lang), year, month, date,
		r.SubtitleText, r.Source,
	}
}
