package reader

import (
	"errors"
	"log/slog"

	"github.com/hazyhaar/liseuse/anchor"
	"github.com/hazyhaar/liseuse/annotation"
	"github.com/hazyhaar/liseuse/dom"
	"github.com/hazyhaar/liseuse/highlight"
)

// Outcome is what a restoration pass did with one record.
type Outcome string

const (
	Applied Outcome = "applied"
	Missed  Outcome = "missed"  // target not rendered yet
	Drifted Outcome = "drifted" // text at the target changed
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped" // locator of the other content type
)

// RecordOutcome is the result for one record.
type RecordOutcome struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// RestoreReport summarises a restoration pass.
type RestoreReport struct {
	Cleared int             `json:"cleared"`
	Applied int             `json:"applied"`
	Missed  int             `json:"missed"`
	Drifted int             `json:"drifted"`
	Failed  int             `json:"failed"`
	Skipped int             `json:"skipped"`
	Records []RecordOutcome `json:"records,omitempty"`
}

func (r *RestoreReport) add(id string, o Outcome, err error) {
	switch o {
	case Applied:
		r.Applied++
	case Missed:
		r.Missed++
	case Drifted:
		r.Drifted++
	case Failed:
		r.Failed++
	case Skipped:
		r.Skipped++
	}
	ro := RecordOutcome{ID: id, Outcome: o}
	if err != nil {
		ro.Error = err.Error()
	}
	r.Records = append(r.Records, ro)
}

// Restore removes every marker from the page and re-applies records whose
// locator matches the page's content type. One record failing never stops
// the others.
//
// Every record is resolved against the cleared page before any marker is
// added, and located again by flattened offsets when its marker is
// applied: markers split text nodes, so node paths and in-node offsets of
// later records would no longer hold, while flattened offsets do.
func Restore(page *dom.Page, records []annotation.Record, logger *slog.Logger) RestoreReport {
	if logger == nil {
		logger = slog.Default()
	}
	var rep RestoreReport
	container := page.Content()
	if container == nil {
		for _, rec := range records {
			rep.add(rec.ID, Failed, anchor.ErrNoContainer)
		}
		return rep
	}
	rep.Cleared = highlight.Clear(container)

	type span struct {
		rec        annotation.Record
		start, end int
	}
	want := anchor.LocatorTypeFor(page.Type())
	var spans []span
	for _, rec := range records {
		if rec.Locator == nil || rec.Locator.Type != want {
			rep.add(rec.ID, Skipped, nil)
			continue
		}
		r, err := anchor.Resolve(rec.Locator, page)
		if err != nil {
			o := classify(err)
			if o == Missed {
				logger.Debug("reader: annotation not rendered yet", "id", rec.ID, "error", err)
			} else {
				logger.Warn("reader: annotation not restored", "id", rec.ID, "outcome", o, "error", err)
			}
			rep.add(rec.ID, o, err)
			continue
		}
		start, end, err := anchor.FlatOffsets(r, container)
		if err != nil {
			logger.Warn("reader: annotation outside content", "id", rec.ID, "error", err)
			rep.add(rec.ID, Failed, err)
			continue
		}
		spans = append(spans, span{rec: rec, start: start, end: end})
	}

	for _, sp := range spans {
		r, err := anchor.ResolveOffsets(container, sp.start, sp.end)
		if err == nil {
			_, err = highlight.Apply(r, markerFor(sp.rec))
		}
		if err != nil {
			logger.Warn("reader: annotation not painted", "id", sp.rec.ID, "error", err)
			rep.add(sp.rec.ID, Failed, err)
			continue
		}
		rep.add(sp.rec.ID, Applied, nil)
	}
	return rep
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, anchor.ErrOffsetOutOfRange), errors.Is(err, anchor.ErrPathNotFound):
		return Missed
	case errors.Is(err, anchor.ErrTextMismatch):
		return Drifted
	}
	return Failed
}

func markerFor(rec annotation.Record) highlight.Marker {
	color := rec.Color
	if color == "" {
		color = annotation.DefaultColor(rec.Kind)
	}
	return highlight.Marker{
		ID:      rec.ID,
		Color:   color,
		Note:    rec.Kind == annotation.Note,
		Comment: rec.Comment,
	}
}
