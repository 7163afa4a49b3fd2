package segment

import "fmt"

// SplitRecords splits a tabular segment into batches of at most maxRecords,
// preserving record order. The concatenation of all batches reconstructs the
// segment exactly. Segments at or under the limit come back as a single
// batch carrying the plain segment name.
func SplitRecords(seg Segment, maxRecords int) []Segment {
	if maxRecords <= 0 || len(seg.Records) <= maxRecords {
		return []Segment{seg}
	}

	var out []Segment
	for i, n := 0, 1; i < len(seg.Records); i, n = i+maxRecords, n+1 {
		end := i + maxRecords
		if end > len(seg.Records) {
			end = len(seg.Records)
		}
		out = append(out, Segment{
			Name:    fmt.Sprintf("%s (batch %d)", seg.Name, n),
			Records: seg.Records[i:end],
		})
	}
	return out
}
