package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"github.com/kilianp07/organlink/infra/activitylog"
)

// WriteJSON writes the entries to w as a JSON array.
func WriteJSON(w io.Writer, entries []activitylog.Entry) error {
	if entries == nil {
		entries = []activitylog.Entry{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(entries)
}

// WriteCSV writes the entries to w with a header row.
func WriteCSV(w io.Writer, entries []activitylog.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "time", "level", "source", "subject", "message", "error_kind"}); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			e.ID,
			e.Time.UTC().Format(time.RFC3339Nano),
			string(e.Level),
			e.Source,
			e.Subject,
			e.Message,
			e.ErrorKind,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
