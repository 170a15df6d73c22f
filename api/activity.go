package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/infra/activitylog"
	"github.com/kilianp07/organlink/pkg/export"
)

const maxActivityLimit = 1000

// activity lists persisted activity and error events. Filters: start, end
// (RFC3339), source, level, subject, limit. format=csv streams a CSV file
// instead of the envelope.
func (h *handlers) activity(c *gin.Context) {
	q, err := activityQuery(c)
	if err != nil {
		Fail(c, err)
		return
	}
	entries, err := h.d.Activity.Query(c.Request.Context(), q)
	if err != nil {
		Fail(c, err)
		return
	}
	switch c.Query("format") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, entries); err != nil {
			_ = c.Error(err)
		}
		return
	case "", "json":
	default:
		Fail(c, errs.Validation("query activity", "unknown format %q", c.Query("format")))
		return
	}
	if entries == nil {
		entries = []activitylog.Entry{}
	}
	OK(c, "ok", entries)
}

func activityQuery(c *gin.Context) (activitylog.Query, error) {
	const op = "query activity"
	q := activitylog.Query{
		Source:  c.Query("source"),
		Subject: c.Query("subject"),
		Level:   activitylog.Level(c.Query("level")),
		Limit:   100,
	}
	switch q.Level {
	case "", activitylog.LevelInfo, activitylog.LevelError:
	default:
		return q, errs.Validation(op, "unknown level %q", q.Level)
	}
	for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		s := c.Query(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errs.Validation(op, "invalid %s %q", name, s)
		}
		*dst = t
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, errs.Validation(op, "invalid limit %q", s)
		}
		q.Limit = min(n, maxActivityLimit)
	}
	return q, nil
}
