// Package exifmeta extracts capture metadata from uploaded image files.
//
// JPEG and TIFF are parsed in-process with goexif. PNG carries no EXIF, so
// only pixel dimensions are reported. HEIC needs the external exiftool binary;
// when the tool is absent HEIC files simply yield no metadata (best effort,
// never an error). Extraction performs no I/O beyond reading the file.
package exifmeta

import (
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	exiftool "github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// exifTimeLayout is the timestamp format EXIF uses. EXIF carries no zone, so
// parsed times are interpreted in the server's local zone.
const exifTimeLayout = "2006:01:02 15:04:05"

// Metadata is the closed record of everything the pipeline keeps from a file's
// EXIF block. Unknown tags are dropped.
type Metadata struct {
	ShotAt      *time.Time
	Lat         *float64
	Lon         *float64
	Width       int
	Height      int
	CameraMake  string
	CameraModel string
	Orientation int

	// Warnings collects non-fatal extraction problems, e.g. GPS coordinates
	// that were present but out of range.
	Warnings []string
}

// HasGPS reports whether a valid coordinate pair was extracted.
func (m *Metadata) HasGPS() bool { return m.Lat != nil && m.Lon != nil }

// Extractor parses metadata from image files on disk.
type Extractor struct {
	heicAvailable bool
}

// New probes for the optional exiftool binary and returns an Extractor.
func New() *Extractor {
	_, err := exec.LookPath("exiftool")
	return &Extractor{heicAvailable: err == nil}
}

// HEICSupported reports whether HEIC extraction is available on this host.
func (e *Extractor) HEICSupported() bool { return e.heicAvailable }

// Extract reads metadata from the file at path. A file with no usable EXIF is
// not an error: the returned Metadata simply has a nil ShotAt. An error means
// the file could not be read or decoded at all.
func (e *Extractor) Extract(path string) (Metadata, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return e.extractHEIC(path)
	default:
		return e.extractNative(path)
	}
}

// extractNative handles JPEG, PNG and TIFF with in-process decoders.
func (e *Extractor) extractNative(path string) (Metadata, error) {
	var meta Metadata

	f, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	} else {
		return meta, fmt.Errorf("decode %s: %w", path, err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return meta, fmt.Errorf("rewind %s: %w", path, err)
	}

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF block (common for PNG). Dimensions alone are a valid result.
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("no exif data: %v", err))
		return meta, nil
	}

	meta.ShotAt = exifTime(x)
	meta.CameraMake = exifString(x, exif.Make)
	meta.CameraModel = exifString(x, exif.Model)
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Orientation = v
		}
	}

	if lat, lon, err := x.LatLong(); err == nil {
		setGPS(&meta, lat, lon)
	}

	return meta, nil
}

// extractHEIC shells out to exiftool. Missing tool or a tool failure yields
// empty metadata, never an error: the photo stays usable and routes to the
// default meeting.
func (e *Extractor) extractHEIC(path string) (Metadata, error) {
	var meta Metadata

	if _, err := os.Stat(path); err != nil {
		return meta, fmt.Errorf("stat %s: %w", path, err)
	}
	if !e.heicAvailable {
		meta.Warnings = append(meta.Warnings, "exiftool not installed, HEIC metadata skipped")
		return meta, nil
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("exiftool init failed: %v", err))
		return meta, nil
	}
	defer et.Close()

	fms := et.ExtractMetadata(path)
	if len(fms) == 0 || fms[0].Err != nil {
		meta.Warnings = append(meta.Warnings, "exiftool returned no metadata")
		return meta, nil
	}
	fm := fms[0]

	for _, field := range []string{"DateTimeOriginal", "CreateDate", "DateCreated"} {
		s, err := fm.GetString(field)
		if err != nil {
			continue
		}
		if ts, err := time.ParseInLocation(exifTimeLayout, s, time.Local); err == nil {
			meta.ShotAt = &ts
			break
		}
	}

	if w, err := fm.GetInt("ImageWidth"); err == nil {
		meta.Width = int(w)
	}
	if h, err := fm.GetInt("ImageHeight"); err == nil {
		meta.Height = int(h)
	}
	if s, err := fm.GetString("Make"); err == nil {
		meta.CameraMake = s
	}
	if s, err := fm.GetString("Model"); err == nil {
		meta.CameraModel = s
	}

	lat, latErr := fm.GetFloat("GPSLatitude")
	lon, lonErr := fm.GetFloat("GPSLongitude")
	if latErr == nil && lonErr == nil {
		setGPS(&meta, lat, lon)
	}

	return meta, nil
}

// setGPS stores a coordinate pair, dropping out-of-range or NaN values with a
// warning. Both coordinates are kept or neither is.
func setGPS(meta *Metadata, lat, lon float64) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("invalid GPS coordinates dropped: lat=%v lon=%v", lat, lon))
		return
	}
	meta.Lat = &lat
	meta.Lon = &lon
}

// exifTime returns DateTimeOriginal, falling back to DateTimeDigitized.
func exifTime(x *exif.Exif) *time.Time {
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		if ts, err := time.ParseInLocation(exifTimeLayout, s, time.Local); err == nil {
			return &ts
		}
	}
	return nil
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
