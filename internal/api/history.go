package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

const (
	defaultReportLimit = 100
	maxReportLimit     = 1000
)

// reportQuery holds the parameters shared by every history report.
type reportQuery struct {
	connection string
	criteria   history.FilterCriteria
	order      history.SortOrder
	limit      int
	offset     int
}

// parseReportQuery reads:
//
//	activity  repeatable; present but empty selects nothing
//	start     RFC 3339, exclusive
//	end       RFC 3339, inclusive
//	entity, result              regular expressions
//	entity_insensitive, result_insensitive
//	sort      "col,-col"
//	limit, offset
func (s *Server) parseReportQuery(w http.ResponseWriter, r *http.Request, sortable []string) (reportQuery, bool) {
	q := r.URL.Query()
	rq := reportQuery{connection: chi.URLParam(r, "name")}
	if _, err := s.conns.Load(r.Context(), rq.connection); err != nil {
		s.fail(w, r, "failed to load connection", err)
		return rq, false
	}

	var err error
	if rq.criteria, err = parseCriteria(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rq, false
	}
	rq.order = history.ParseSortOrder(q.Get("sort"))
	if err := rq.order.Validate(sortable); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rq, false
	}
	if rq.limit, rq.offset, err = parseLimitOffset(r, defaultReportLimit, maxReportLimit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return rq, false
	}
	return rq, true
}

func parseCriteria(q url.Values) (history.FilterCriteria, error) {
	var c history.FilterCriteria
	if acts, ok := q["activity"]; ok {
		c.Activities = []string{}
		for _, a := range acts {
			if a = strings.TrimSpace(a); a != "" {
				c.Activities = append(c.Activities, a)
			}
		}
	}
	var err error
	if c.StartTime, err = parseTime(q, "start"); err != nil {
		return c, err
	}
	if c.EndTime, err = parseTime(q, "end"); err != nil {
		return c, err
	}
	if c.EntityMatch, err = parseClause(q, "entity"); err != nil {
		return c, err
	}
	if c.ResultCodeMatch, err = parseClause(q, "result"); err != nil {
		return c, err
	}
	return c, nil
}

func parseTime(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: want RFC 3339", key)
	}
	return &t, nil
}

func parseClause(q url.Values, key string) (*history.RegexpClause, error) {
	pattern := q.Get(key)
	if pattern == "" {
		return nil, nil
	}
	if _, err := regexp2.Compile(pattern, regexp2.None); err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", key, err)
	}
	insensitive, _ := strconv.ParseBool(q.Get(key + "_insensitive"))
	return &history.RegexpClause{Pattern: pattern, Insensitive: insensitive}, nil
}

// parseBucket reads a bucket regexp; an absent one buckets everything as
// the whole value.
func parseBucket(q url.Values, key string) (history.BucketDescription, error) {
	pattern := q.Get(key)
	if pattern == "" {
		pattern = "^.*$"
	}
	if _, err := regexp2.Compile(pattern, regexp2.None); err != nil {
		return history.BucketDescription{}, fmt.Errorf("invalid %s pattern: %w", key, err)
	}
	insensitive, _ := strconv.ParseBool(q.Get(key + "_insensitive"))
	return history.BucketDescription{Regexp: pattern, Insensitive: insensitive}, nil
}

func parseInterval(q url.Values) (time.Duration, error) {
	raw := q.Get("interval")
	if raw == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid interval")
	}
	return d, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func (s *Server) simpleReport(w http.ResponseWriter, r *http.Request) {
	rq, ok := s.parseReportQuery(w, r, history.SimpleSortable)
	if !ok {
		return
	}
	rows, err := s.conns.SimpleHistoryReport(r.Context(), rq.connection, rq.criteria, rq.order, rq.offset, rq.limit)
	s.writeReport(w, r, rows, err)
}

func (s *Server) countHistory(w http.ResponseWriter, r *http.Request) {
	rq, ok := s.parseReportQuery(w, r, history.SimpleSortable)
	if !ok {
		return
	}
	n, err := s.conns.CountHistoryRows(r.Context(), rq.connection, rq.criteria)
	if err != nil {
		s.fail(w, r, "failed to count history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) maxActivityReport(w http.ResponseWriter, r *http.Request) {
	s.windowReport(w, r, history.ActivityCountColumns, func(ctx context.Context, rq reportQuery, b history.BucketDescription, d time.Duration) (any, error) {
		return s.conns.MaxActivityCountReport(ctx, rq.connection, rq.criteria, rq.order, b, d, rq.offset, rq.limit)
	})
}

func (s *Server) maxBytesReport(w http.ResponseWriter, r *http.Request) {
	s.windowReport(w, r, history.ByteCountColumns, func(ctx context.Context, rq reportQuery, b history.BucketDescription, d time.Duration) (any, error) {
		return s.conns.MaxByteCountReport(ctx, rq.connection, rq.criteria, rq.order, b, d, rq.offset, rq.limit)
	})
}

func (s *Server) windowReport(
	w http.ResponseWriter,
	r *http.Request,
	sortable []string,
	run func(context.Context, reportQuery, history.BucketDescription, time.Duration) (any, error),
) {
	rq, ok := s.parseReportQuery(w, r, sortable)
	if !ok {
		return
	}
	q := r.URL.Query()
	interval, err := parseInterval(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bucket, err := parseBucket(q, "entity_bucket")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := run(r.Context(), rq, bucket, interval)
	s.writeReport(w, r, rows, err)
}

func (s *Server) resultCodesReport(w http.ResponseWriter, r *http.Request) {
	rq, ok := s.parseReportQuery(w, r, history.ResultCodeColumns)
	if !ok {
		return
	}
	q := r.URL.Query()
	idBucket, err := parseBucket(q, "entity_bucket")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resultBucket, err := parseBucket(q, "result_bucket")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.conns.ResultCodesReport(r.Context(), rq.connection, rq.criteria, rq.order, resultBucket, idBucket, rq.offset, rq.limit)
	s.writeReport(w, r, rows, err)
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, rows any, err error) {
	if err != nil {
		s.fail(w, r, "failed to build history report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}
