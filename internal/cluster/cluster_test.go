package cluster

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

var baseTime = time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)

func photoAt(t time.Time) Photo {
	return Photo{ID: uuid.New(), ShotAt: t}
}

func gpsPhotoAt(t time.Time, lat, lon float64) Photo {
	return Photo{ID: uuid.New(), ShotAt: t, Lat: &lat, Lon: &lon}
}

func TestSplit_Empty(t *testing.T) {
	if got := Split(nil, 4*time.Hour); got != nil {
		t.Errorf("Split(nil) = %v, want nil", got)
	}
}

func TestSplit_SingleCluster(t *testing.T) {
	// Ten photos 30 seconds apart collapse into one meeting.
	var photos []Photo
	for k := 0; k < 10; k++ {
		photos = append(photos, photoAt(baseTime.Add(time.Duration(k)*30*time.Second)))
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	c := clusters[0]
	if len(c.Photos) != 10 {
		t.Errorf("cluster has %d photos, want 10", len(c.Photos))
	}
	if !c.Start.Equal(baseTime) {
		t.Errorf("Start = %v, want %v", c.Start, baseTime)
	}
	wantEnd := baseTime.Add(4*time.Minute + 30*time.Second)
	if !c.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", c.End, wantEnd)
	}
}

func TestSplit_DayGapCreatesTwo(t *testing.T) {
	photos := []Photo{
		photoAt(baseTime),
		photoAt(baseTime.Add(24 * time.Hour)),
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	for i, c := range clusters {
		if len(c.Photos) != 1 {
			t.Errorf("cluster %d has %d photos, want 1", i, len(c.Photos))
		}
	}
}

func TestSplit_GapBoundary(t *testing.T) {
	// 10:00, 10:30 and 15:00 on the same day. The 10:30 -> 15:00 interior gap
	// is 4.5h > 4h, so the run splits into two meetings.
	photos := []Photo{
		photoAt(baseTime),
		photoAt(baseTime.Add(30 * time.Minute)),
		photoAt(baseTime.Add(5 * time.Hour)),
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if len(clusters[0].Photos) != 2 {
		t.Errorf("first cluster has %d photos, want 2", len(clusters[0].Photos))
	}
	if len(clusters[1].Photos) != 1 {
		t.Errorf("second cluster has %d photos, want 1", len(clusters[1].Photos))
	}
}

func TestSplit_ExactGapStaysTogether(t *testing.T) {
	// A gap of exactly the threshold does not split; only strictly greater does.
	photos := []Photo{
		photoAt(baseTime),
		photoAt(baseTime.Add(4 * time.Hour)),
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
}

func TestSplit_UnsortedInput(t *testing.T) {
	photos := []Photo{
		photoAt(baseTime.Add(26 * time.Hour)),
		photoAt(baseTime),
		photoAt(baseTime.Add(25 * time.Hour)),
		photoAt(baseTime.Add(time.Hour)),
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if !clusters[0].Start.Equal(baseTime) {
		t.Errorf("first cluster starts at %v, want %v", clusters[0].Start, baseTime)
	}
	if !clusters[1].End.Equal(baseTime.Add(26 * time.Hour)) {
		t.Errorf("second cluster ends at %v, want %v", clusters[1].End, baseTime.Add(26*time.Hour))
	}
}

func TestSplit_TieBrokenByID(t *testing.T) {
	a := Photo{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), ShotAt: baseTime}
	b := Photo{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), ShotAt: baseTime}

	for _, input := range [][]Photo{{a, b}, {b, a}} {
		clusters := Split(input, 4*time.Hour)
		if len(clusters) != 1 {
			t.Fatalf("got %d clusters, want 1", len(clusters))
		}
		if clusters[0].Photos[0].ID != a.ID {
			t.Errorf("first photo = %v, want %v (id tiebreak)", clusters[0].Photos[0].ID, a.ID)
		}
	}
}

func TestSplit_TrackAndBBox(t *testing.T) {
	photos := []Photo{
		gpsPhotoAt(baseTime, 37.5665, 126.9780),
		photoAt(baseTime.Add(10 * time.Minute)), // no GPS, skipped from track
		gpsPhotoAt(baseTime.Add(20*time.Minute), 37.5700, 126.9750),
	}

	clusters := Split(photos, 4*time.Hour)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	c := clusters[0]
	if len(c.Track) != 2 {
		t.Fatalf("track has %d points, want 2", len(c.Track))
	}
	if c.Track[0].Lat != 37.5665 || c.Track[1].Lat != 37.5700 {
		t.Errorf("track out of capture order: %+v", c.Track)
	}
	if c.BBox == nil {
		t.Fatal("expected bbox")
	}
	if c.BBox.North != 37.5700 || c.BBox.South != 37.5665 {
		t.Errorf("bbox lat bounds = [%v, %v], want [37.5665, 37.5700]", c.BBox.South, c.BBox.North)
	}
	if c.BBox.East != 126.9780 || c.BBox.West != 126.9750 {
		t.Errorf("bbox lon bounds = [%v, %v], want [126.9750, 126.9780]", c.BBox.West, c.BBox.East)
	}
}

func TestSplit_NoGPSNoBBox(t *testing.T) {
	clusters := Split([]Photo{photoAt(baseTime)}, 4*time.Hour)
	if clusters[0].BBox != nil {
		t.Error("expected nil bbox without GPS members")
	}
	if clusters[0].Track != nil {
		t.Error("expected empty track without GPS members")
	}
}

// TestSplit_Purity checks the core clustering property on random inputs: every
// adjacent in-cluster pair is within the gap, and every cross-cluster boundary
// exceeds it.
func TestSplit_Purity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gap := 4 * time.Hour

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(100)
		photos := make([]Photo, n)
		cursor := baseTime
		for i := range photos {
			cursor = cursor.Add(time.Duration(rng.Intn(8*3600)) * time.Second)
			photos[i] = photoAt(cursor)
		}
		rng.Shuffle(n, func(i, j int) { photos[i], photos[j] = photos[j], photos[i] })

		clusters := Split(photos, gap)

		total := 0
		for ci, c := range clusters {
			total += len(c.Photos)
			for i := 1; i < len(c.Photos); i++ {
				d := c.Photos[i].ShotAt.Sub(c.Photos[i-1].ShotAt)
				if d > gap {
					t.Fatalf("trial %d: in-cluster gap %v exceeds %v", trial, d, gap)
				}
			}
			if ci > 0 {
				d := c.Start.Sub(clusters[ci-1].End)
				if d <= gap {
					t.Fatalf("trial %d: cross-cluster gap %v not greater than %v", trial, d, gap)
				}
			}
		}
		if total != n {
			t.Fatalf("trial %d: clusters cover %d photos, want %d", trial, total, n)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	var photos []Photo
	for k := 0; k < 20; k++ {
		photos = append(photos, photoAt(baseTime.Add(time.Duration(k)*3*time.Hour)))
	}

	first := Split(photos, 4*time.Hour)
	second := Split(photos, 4*time.Hour)
	if len(first) != len(second) {
		t.Fatalf("cluster counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Start != second[i].Start || first[i].End != second[i].End {
			t.Errorf("cluster %d extents differ between runs", i)
		}
	}
}

func TestClusterTitle(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{6, "Morning"},
		{11, "Morning"},
		{12, "Afternoon"},
		{16, "Afternoon"},
		{17, "Evening"},
		{20, "Evening"},
		{23, "Night"},
		{3, "Night"},
	}
	for _, tc := range cases {
		start := time.Date(2024, 6, 10, tc.hour, 0, 0, 0, time.Local)
		c := Cluster{Start: start}
		want := "2024-06-10 " + tc.want
		if got := c.Title(); got != want {
			t.Errorf("Title at hour %d = %q, want %q", tc.hour, got, want)
		}
		if c.Title() == DefaultMeetingTitle {
			t.Errorf("generated title must never be %q", DefaultMeetingTitle)
		}
	}
}

func TestMeetingDate(t *testing.T) {
	c := Cluster{Start: time.Date(2024, 6, 10, 23, 45, 0, 0, time.Local)}
	got := c.MeetingDate()
	if got.Year() != 2024 || got.Month() != time.June || got.Day() != 10 {
		t.Errorf("MeetingDate = %v, want 2024-06-10", got)
	}
}
