// Package cluster implements the pure photo-to-meeting clustering algorithm.
//
// Given a set of photos with known capture times and a gap threshold, Split
// produces an ordered list of clusters such that no two adjacent photos inside
// a cluster are further apart than the gap, and adjacent clusters are always
// separated by more than the gap. The function performs no I/O and its output
// is a deterministic function of its input.
package cluster

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultMeetingTitle is the reserved title of the per-group catch-all meeting
// that owns photos without a capture timestamp. Generated meeting titles must
// never collide with it.
const DefaultMeetingTitle = "Default Meeting"

// Photo is the minimal photo view the engine needs.
type Photo struct {
	ID     uuid.UUID
	ShotAt time.Time
	Lat    *float64
	Lon    *float64
}

// Point is a single GPS coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// BBox is a geographic bounding box over a cluster's GPS points.
type BBox struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Cluster is one meeting candidate: a maximal run of photos whose adjacent
// capture times are within the gap.
type Cluster struct {
	// Photos in (ShotAt, ID) order.
	Photos []Photo

	Start time.Time
	End   time.Time

	// Track holds the GPS points of member photos, in capture order.
	Track []Point

	// BBox is nil when no member photo carries GPS.
	BBox *BBox
}

// Split partitions photos into clusters separated by more than gap. The input
// is copied and sorted by (ShotAt, ID); ties on ShotAt are broken by ID so the
// result is deterministic. Photos without a capture time must be filtered out
// by the caller. Returns nil for empty input.
func Split(photos []Photo, gap time.Duration) []Cluster {
	if len(photos) == 0 {
		return nil
	}

	sorted := make([]Photo, len(photos))
	copy(sorted, photos)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ShotAt.Equal(sorted[j].ShotAt) {
			return sorted[i].ShotAt.Before(sorted[j].ShotAt)
		}
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	var clusters []Cluster
	current := []Photo{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if next.ShotAt.Sub(prev.ShotAt) > gap {
			clusters = append(clusters, finish(current))
			current = []Photo{next}
			continue
		}
		current = append(current, next)
	}
	clusters = append(clusters, finish(current))

	return clusters
}

// finish seals a member run into a Cluster, deriving its time extent, GPS
// track and bounding box.
func finish(members []Photo) Cluster {
	c := Cluster{
		Photos: members,
		Start:  members[0].ShotAt,
		End:    members[len(members)-1].ShotAt,
	}

	for _, p := range members {
		if !hasGPS(p) {
			continue
		}
		pt := Point{Lat: *p.Lat, Lon: *p.Lon}
		c.Track = append(c.Track, pt)
		if c.BBox == nil {
			c.BBox = &BBox{North: pt.Lat, South: pt.Lat, East: pt.Lon, West: pt.Lon}
			continue
		}
		c.BBox.North = math.Max(c.BBox.North, pt.Lat)
		c.BBox.South = math.Min(c.BBox.South, pt.Lat)
		c.BBox.East = math.Max(c.BBox.East, pt.Lon)
		c.BBox.West = math.Min(c.BBox.West, pt.Lon)
	}

	return c
}

func hasGPS(p Photo) bool {
	return p.Lat != nil && p.Lon != nil
}

// MeetingDate returns the local calendar date of the cluster's start.
func (c *Cluster) MeetingDate() time.Time {
	y, m, d := c.Start.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// PhotoIDs returns the member ids in cluster order.
func (c *Cluster) PhotoIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Photos))
	for i, p := range c.Photos {
		ids[i] = p.ID
	}
	return ids
}

// Title derives the human-readable meeting title from the cluster start, e.g.
// "2024-06-10 Afternoon". The result is never DefaultMeetingTitle.
func (c *Cluster) Title() string {
	return fmt.Sprintf("%s %s", c.Start.Local().Format("2006-01-02"), dayPart(c.Start.Local().Hour()))
}

func dayPart(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Morning"
	case hour >= 12 && hour < 17:
		return "Afternoon"
	case hour >= 17 && hour < 21:
		return "Evening"
	default:
		return "Night"
	}
}
