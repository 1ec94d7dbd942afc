package photodb

import (
	"testing"

	"github.com/phototimeline/server/internal/cluster"
)

func TestLinestringWKT(t *testing.T) {
	track := []cluster.Point{
		{Lat: 52.52, Lon: 13.405},
		{Lat: 52.53, Lon: 13.41},
	}
	got := linestringWKT(track)
	want := "LINESTRING(13.405 52.52, 13.41 52.53)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLinestringWKTTooShort(t *testing.T) {
	if got := linestringWKT(nil); got != "" {
		t.Errorf("nil track: got %q", got)
	}
	if got := linestringWKT([]cluster.Point{{Lat: 1, Lon: 2}}); got != "" {
		t.Errorf("single point: got %q", got)
	}
}

func TestParseLinestringWKTRoundTrip(t *testing.T) {
	track := []cluster.Point{
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: -33.87, Lon: 151.21},
		{Lat: -33.9, Lon: 151.25},
	}
	parsed, err := parseLinestringWKT(linestringWKT(track))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != len(track) {
		t.Fatalf("got %d points, want %d", len(parsed), len(track))
	}
	for i := range track {
		if parsed[i] != track[i] {
			t.Errorf("point %d: got %+v, want %+v", i, parsed[i], track[i])
		}
	}
}

func TestParseLinestringWKTMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"POINT(1 2)",
		"LINESTRING",
		"LINESTRING(1 2",
		"LINESTRING(1 2, x y)",
		"LINESTRING(1, 2 3)",
	} {
		if _, err := parseLinestringWKT(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}
