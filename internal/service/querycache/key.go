package querycache

import (
	"fmt"
	"strings"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/domain/repository"
)

const keyPrefix = "bars:"

// Key is the full query tuple. Two queries share an entry only when every field matches.
type Key struct {
	SeriesID   string
	Timeframe  repository.Timeframe
	Start      int64
	End        int64
	SeriesType models.SeriesType
	Limit      int
}

// String renders bars:<seriesId>|<tf>|<start>|<end>|<type>|<limit>.
func (k Key) String() string {
	return fmt.Sprintf("%s%s|%s|%d|%d|%s|%d", keyPrefix, k.SeriesID, k.Timeframe, k.Start, k.End, k.SeriesType, k.Limit)
}

// SeriesPattern matches every key of one series.
func SeriesPattern(seriesID string) string {
	return keyPrefix + escapeGlob(seriesID) + "|*"
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
