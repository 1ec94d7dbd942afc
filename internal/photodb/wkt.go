package photodb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phototimeline/server/internal/cluster"
)

// linestringWKT renders a GPS track as PostGIS WKT, x=longitude y=latitude.
// Returns "" for tracks shorter than two points: a LINESTRING needs at least
// two vertices, and a single fix carries no route information.
func linestringWKT(track []cluster.Point) string {
	if len(track) < 2 {
		return ""
	}
	parts := make([]string, len(track))
	for i, p := range track {
		parts[i] = fmt.Sprintf("%s %s",
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
			strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	return "LINESTRING(" + strings.Join(parts, ", ") + ")"
}

// parseLinestringWKT is the inverse of linestringWKT, used when reading
// meetings back. Malformed input yields an error rather than a partial track.
func parseLinestringWKT(wkt string) ([]cluster.Point, error) {
	s := strings.TrimSpace(wkt)
	if !strings.HasPrefix(s, "LINESTRING") {
		return nil, fmt.Errorf("not a linestring: %q", wkt)
	}
	s = strings.TrimPrefix(s, "LINESTRING")
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("malformed linestring: %q", wkt)
	}

	var track []cluster.Point
	for _, pair := range strings.Split(s[1:len(s)-1], ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed coordinate %q in %q", pair, wkt)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse longitude %q: %w", fields[0], err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse latitude %q: %w", fields[1], err)
		}
		track = append(track, cluster.Point{Lat: lat, Lon: lon})
	}
	return track, nil
}
