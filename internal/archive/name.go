package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Archive names follow <channel>_<YYYY-MM-DD>_<HH>_<MM>.tar[.gz|.xz],
// e.g. 0_2025-01-31_23_50.tar.xz for the 23:50 slot of 2025-01-31.
var namePattern = regexp.MustCompile(`^(\d+)_(\d{4})-(\d{2})-(\d{2})_(\d{2})_(\d{2})\.tar(\.gz|\.xz)?$`)

// NameInfo holds the fields encoded in an archive filename.
type NameInfo struct {
	Channel  int
	Year     int
	Month    int
	Day      int
	Timeslot string // "HH_MM", used as the remote storage directory
}

// ParseName decodes the day, channel and timeslot from an archive filename.
func ParseName(name string) (NameInfo, error) {
	base := filepath.Base(name)
	m := namePattern.FindStringSubmatch(base)
	if m == nil {
		return NameInfo{}, fmt.Errorf("archive: unrecognized name %q", base)
	}

	channel, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return NameInfo{}, fmt.Errorf("archive: invalid date in name %q", base)
	}

	return NameInfo{
		Channel:  channel,
		Year:     year,
		Month:    month,
		Day:      day,
		Timeslot: m[5] + "_" + m[6],
	}, nil
}

// DiscoverDay lists the archives for one day under dir, sorted by timeslot.
func DiscoverDay(dir string, year, month, day int) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("0_%04d-%02d-%02d_*.tar*", year, month, day))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	valid := matches[:0]
	for _, m := range matches {
		if _, err := ParseName(m); err == nil {
			valid = append(valid, m)
		}
	}
	sort.Strings(valid)
	return valid, nil
}
