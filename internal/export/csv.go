// Package export writes and reads session recordings as CSV.
//
// Format (one row per motion sample):
//
//	timestamp,velocity,offset,acceleration,meanVelocity,velocityStdDev,jerkiness,reversals
//	1700000000.016000,120.5,10,0,,,,
//	1700000002.016000,-80.25,8,-11850,100,55,130,4
//
// timestamp is Unix seconds with microsecond precision. The feature columns
// hold the latest snapshot taken at or before the sample and are empty
// until the first snapshot exists.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// Header is the column layout.
var Header = []string{
	"timestamp", "velocity", "offset", "acceleration",
	"meanVelocity", "velocityStdDev", "jerkiness", "reversals",
}

// ErrBadHeader means the input is not an export produced by WriteCSV.
var ErrBadHeader = errors.New("unexpected csv header")

// Snapshot is a feature vector observed at a point in time.
type Snapshot struct {
	Timestamp time.Time
	Features  biometrics.Features
}

// Row is one parsed line.
type Row struct {
	Sample   biometrics.MotionSample
	Features *biometrics.Features // nil when the columns were empty
}

// WriteCSV writes samples with the snapshot in effect at each one.
// Snapshots need not be sorted.
func WriteCSV(w io.Writer, samples []biometrics.MotionSample, snapshots []Snapshot) error {
	snaps := append([]Snapshot(nil), snapshots...)
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	next := 0
	var current *biometrics.Features
	for _, s := range samples {
		for next < len(snaps) && !snaps[next].Timestamp.After(s.Timestamp) {
			current = &snaps[next].Features
			next++
		}

		record := []string{
			FormatTimestamp(s.Timestamp),
			formatFloat(s.Velocity),
			formatFloat(s.Offset),
			formatFloat(s.Acceleration),
			"", "", "", "",
		}
		if current != nil {
			record[4] = formatFloat(current.MeanVelocity)
			record[5] = formatFloat(current.VelocityStdDev)
			record[6] = formatFloat(current.Jerkiness)
			record[7] = strconv.Itoa(current.DirectionReversals)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrBadHeader)
		}
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	for i, name := range Header {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, header[i], name)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}

		row, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

// Samples strips the feature columns from parsed rows.
func Samples(rows []Row) []biometrics.MotionSample {
	out := make([]biometrics.MotionSample, len(rows))
	for i, r := range rows {
		out[i] = r.Sample
	}
	return out
}

func parseRecord(record []string) (Row, error) {
	var row Row
	var err error

	if row.Sample.Timestamp, err = ParseTimestamp(record[0]); err != nil {
		return row, err
	}
	vals := make([]float64, 3)
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64); err != nil {
			return row, fmt.Errorf("%s: %w", Header[i+1], err)
		}
	}
	row.Sample.Velocity, row.Sample.Offset, row.Sample.Acceleration = vals[0], vals[1], vals[2]

	featureCols := record[4:]
	empty := true
	for _, c := range featureCols {
		if strings.TrimSpace(c) != "" {
			empty = false
		}
	}
	if empty {
		return row, nil
	}

	var f biometrics.Features
	fvals := make([]float64, 3)
	for i := range fvals {
		if fvals[i], err = strconv.ParseFloat(strings.TrimSpace(featureCols[i]), 64); err != nil {
			return row, fmt.Errorf("%s: %w", Header[i+4], err)
		}
	}
	f.MeanVelocity, f.VelocityStdDev, f.Jerkiness = fvals[0], fvals[1], fvals[2]
	if f.DirectionReversals, err = strconv.Atoi(strings.TrimSpace(featureCols[3])); err != nil {
		return row, fmt.Errorf("reversals: %w", err)
	}
	row.Features = &f
	return row, nil
}

// FormatTimestamp renders Unix seconds with six decimals.
func FormatTimestamp(t time.Time) string {
	us := t.UnixMicro()
	sec, frac := us/1e6, us%1e6
	if frac < 0 {
		sec--
		frac += 1e6
	}
	return fmt.Sprintf("%d.%06d", sec, frac)
}

// ParseTimestamp accepts Unix seconds with an optional fraction of up to
// nine digits.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")

	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}

	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nsec, err = strconv.ParseInt(frac, 10, 64); err != nil || nsec < 0 {
			return time.Time{}, fmt.Errorf("timestamp %q: bad fraction", s)
		}
	}
	if strings.HasPrefix(whole, "-") && nsec > 0 {
		return time.Time{}, fmt.Errorf("timestamp %q: negative fractional time", s)
	}
	return time.Unix(sec, nsec), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
