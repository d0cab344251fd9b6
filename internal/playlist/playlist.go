// Package playlist builds the bit-exact HLS VOD playlist served by the
// HTTP serving surface.
package playlist

import (
	"fmt"
	"strings"

	"github.com/segmentpipe/segmentpipe/internal/index"
)

// TargetDuration is serialized into #EXT-X-TARGETDURATION, matching the
// default roll interval of 15 seconds; callers running with a different
// roll interval may override it via BuildWithTargetDuration.
const TargetDuration = 15

// Build renders a VOD playlist for rows in the bit-exact format: CRLF line
// endings, a fixed five-line header, one #EXTINF/URI pair per row in index
// order, and a trailing #EXT-X-ENDLIST.
func Build(rows []index.VideoFile) string {
	return BuildWithTargetDuration(rows, TargetDuration)
}

// BuildWithTargetDuration is Build with an explicit TARGETDURATION value.
func BuildWithTargetDuration(rows []index.VideoFile, targetDuration int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\r\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\r\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\r\n", targetDuration)
	b.WriteString("#EXT-X-VERSION:4\r\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:1\r\n")
	b.WriteString("\r\n")

	for _, row := range rows {
		fmt.Fprintf(&b, "#EXTINF:%s\r\n", formatDuration(row.Duration))
		fmt.Fprintf(&b, "files/%s\r\n", row.FileID)
	}

	b.WriteString("#EXT-X-ENDLIST\r\n")
	return b.String()
}

// formatDuration matches the reference two-decimal EXTINF rendering
// (testable property 8: "15.16").
func formatDuration(d float64) string {
	return fmt.Sprintf("%.2f", d)
}
