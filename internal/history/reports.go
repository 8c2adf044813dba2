package history

import (
	"sort"
	"time"
)

// Column lists used to complete sort orders.
var (
	SimpleColumns        = []string{"starttime", "id"}
	SimpleSortable       = []string{"id", "activity", "starttime", "elapsedtime", "resultcode", "resultdesc", "bytes", "identifier"}
	ActivityCountColumns = []string{"activitycount", "starttime", "endtime", "idbucket"}
	ByteCountColumns     = []string{"bytecount", "starttime", "endtime", "idbucket"}
	ResultCodeColumns    = []string{"eventcount", "resultcodebucket", "idbucket"}
)

// SimpleRow is one line of the simple history report.
type SimpleRow struct {
	ID          string        `json:"id"`
	Activity    string        `json:"activity"`
	StartTime   time.Time     `json:"starttime"`
	ElapsedTime time.Duration `json:"elapsedtime"`
	ResultCode  string        `json:"resultcode,omitempty"`
	ResultDesc  string        `json:"resultdesc,omitempty"`
	Bytes       int64         `json:"bytes"`
	Identifier  string        `json:"identifier"`
}

// ActivityCountRow is the busiest window for one entity bucket.
type ActivityCountRow struct {
	ActivityCount float64   `json:"activitycount"`
	StartTime     time.Time `json:"starttime"`
	EndTime       time.Time `json:"endtime"`
	IDBucket      string    `json:"idbucket"`
}

// ByteCountRow is the heaviest window for one entity bucket.
type ByteCountRow struct {
	ByteCount int64     `json:"bytecount"`
	StartTime time.Time `json:"starttime"`
	EndTime   time.Time `json:"endtime"`
	IDBucket  string    `json:"idbucket"`
}

// ResultCodeRow counts events per result-code and entity bucket.
type ResultCodeRow struct {
	EventCount       int64  `json:"eventcount"`
	ResultCodeBucket string `json:"resultcodebucket"`
	IDBucket         string `json:"idbucket"`
}

// ToSimple converts a stored row to its report form.
func ToSimple(r Row) SimpleRow {
	return SimpleRow{
		ID:          r.ID,
		Activity:    r.ActivityType,
		StartTime:   r.StartTime,
		ElapsedTime: r.EndTime.Sub(r.StartTime),
		ResultCode:  r.ResultCode,
		ResultDesc:  r.ResultDescription,
		Bytes:       r.DataSize,
		Identifier:  r.EntityID,
	}
}

// Simple sorts, offsets and limits rows. A limit <= 0 returns every row.
func Simple(rows []Row, order SortOrder, offset, limit int) ([]SimpleRow, error) {
	if err := order.Validate(SimpleSortable); err != nil {
		return nil, err
	}
	out := make([]SimpleRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ToSimple(r))
	}
	sortRows(out, order.Complete(SimpleColumns), simpleValue)
	return page(out, offset, limit), nil
}

func simpleValue(r SimpleRow, col string) any {
	switch col {
	case "id":
		return r.ID
	case "activity":
		return r.Activity
	case "starttime":
		return r.StartTime
	case "elapsedtime":
		return r.ElapsedTime
	case "resultcode":
		return r.ResultCode
	case "resultdesc":
		return r.ResultDesc
	case "bytes":
		return r.Bytes
	default:
		return r.Identifier
	}
}

type window struct {
	bucket string
	start  time.Time
	end    time.Time
}

// windowTotals evaluates every candidate window of length interval, one
// aligned to each row's start and one to each row's end, and keeps the
// largest total per bucket. weight returns a row's contribution given the
// overlap between it and the window.
func windowTotals(
	rows []Row,
	bucketDesc BucketDescription,
	interval time.Duration,
	weight func(r Row, overlap, duration time.Duration) float64,
) (map[string]window, map[string]float64, error) {
	bucketer, err := bucketDesc.Compile()
	if err != nil {
		return nil, nil, err
	}
	byBucket := map[string][]Row{}
	for _, r := range rows {
		b, ok := bucketer.Extract(r.EntityID)
		if !ok {
			continue
		}
		byBucket[b] = append(byBucket[b], r)
	}

	best := map[string]window{}
	bestTotal := map[string]float64{}
	for bucket, members := range byBucket {
		seen := map[[2]int64]struct{}{}
		var candidates []window
		for _, m := range members {
			for _, w := range []window{
				{bucket: bucket, start: m.StartTime, end: m.StartTime.Add(interval)},
				{bucket: bucket, start: m.EndTime.Add(-interval), end: m.EndTime},
			} {
				key := [2]int64{w.start.UnixNano(), w.end.UnixNano()}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				candidates = append(candidates, w)
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].start.Before(candidates[j].start) })
		for _, w := range candidates {
			var total float64
			for _, m := range members {
				if !m.StartTime.Before(w.end) || !m.EndTime.After(w.start) {
					continue
				}
				lo := maxTime(w.start, m.StartTime)
				hi := minTime(w.end, m.EndTime)
				total += weight(m, hi.Sub(lo), m.EndTime.Sub(m.StartTime))
			}
			if cur, ok := bestTotal[bucket]; !ok || total > cur {
				bestTotal[bucket] = total
				best[bucket] = w
			}
		}
	}
	return best, bestTotal, nil
}

// MaxActivityCount reports, per entity bucket, the largest number of
// activities within any window of the given interval. Activities that only
// partly overlap a window count by the overlapping fraction.
func MaxActivityCount(
	rows []Row,
	order SortOrder,
	bucket BucketDescription,
	interval time.Duration,
	offset, limit int,
) ([]ActivityCountRow, error) {
	if err := order.Validate(ActivityCountColumns); err != nil {
		return nil, err
	}
	best, totals, err := windowTotals(rows, bucket, interval, func(_ Row, overlap, duration time.Duration) float64 {
		if duration <= 0 {
			return 1
		}
		return float64(overlap) / float64(duration)
	})
	if err != nil {
		return nil, err
	}
	out := make([]ActivityCountRow, 0, len(best))
	for b, w := range best {
		out = append(out, ActivityCountRow{ActivityCount: totals[b], StartTime: w.start, EndTime: w.end, IDBucket: b})
	}
	sortRows(out, order.Complete(ActivityCountColumns), func(r ActivityCountRow, col string) any {
		switch col {
		case "activitycount":
			return r.ActivityCount
		case "starttime":
			return r.StartTime
		case "endtime":
			return r.EndTime
		default:
			return r.IDBucket
		}
	})
	return page(out, offset, limit), nil
}

// MaxByteCount reports, per entity bucket, the largest byte volume within
// any window of the given interval, prorating partially overlapping rows.
func MaxByteCount(
	rows []Row,
	order SortOrder,
	bucket BucketDescription,
	interval time.Duration,
	offset, limit int,
) ([]ByteCountRow, error) {
	if err := order.Validate(ByteCountColumns); err != nil {
		return nil, err
	}
	best, totals, err := windowTotals(rows, bucket, interval, func(r Row, overlap, duration time.Duration) float64 {
		if duration <= 0 {
			return float64(r.DataSize)
		}
		return float64(int64(float64(r.DataSize) * float64(overlap) / float64(duration)))
	})
	if err != nil {
		return nil, err
	}
	out := make([]ByteCountRow, 0, len(best))
	for b, w := range best {
		out = append(out, ByteCountRow{ByteCount: int64(totals[b]), StartTime: w.start, EndTime: w.end, IDBucket: b})
	}
	sortRows(out, order.Complete(ByteCountColumns), func(r ByteCountRow, col string) any {
		switch col {
		case "bytecount":
			return r.ByteCount
		case "starttime":
			return r.StartTime
		case "endtime":
			return r.EndTime
		default:
			return r.IDBucket
		}
	})
	return page(out, offset, limit), nil
}

// ResultCodes counts rows per (result code bucket, entity bucket). Values the
// bucket pattern does not match fall into the empty bucket.
func ResultCodes(
	rows []Row,
	order SortOrder,
	resultBucket, idBucket BucketDescription,
	offset, limit int,
) ([]ResultCodeRow, error) {
	if err := order.Validate(ResultCodeColumns); err != nil {
		return nil, err
	}
	rb, err := resultBucket.Compile()
	if err != nil {
		return nil, err
	}
	ib, err := idBucket.Compile()
	if err != nil {
		return nil, err
	}
	counts := map[[2]string]int64{}
	for _, r := range rows {
		code, _ := rb.Extract(r.ResultCode)
		id, _ := ib.Extract(r.EntityID)
		counts[[2]string{code, id}]++
	}
	out := make([]ResultCodeRow, 0, len(counts))
	for k, n := range counts {
		out = append(out, ResultCodeRow{EventCount: n, ResultCodeBucket: k[0], IDBucket: k[1]})
	}
	sortRows(out, order.Complete(ResultCodeColumns), func(r ResultCodeRow, col string) any {
		switch col {
		case "eventcount":
			return r.EventCount
		case "resultcodebucket":
			return r.ResultCodeBucket
		default:
			return r.IDBucket
		}
	})
	return page(out, offset, limit), nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
