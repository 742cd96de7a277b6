package notefile

import (
	"slices"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// FromNote builds the document for n with the given header timestamps.
func FromNote(n core.Note, created, updated time.Time) Document {
	tags := slices.Clone(n.Tags)
	if tags == nil {
		tags = []string{}
	}
	return Document{
		Header: Header{
			Title:     n.Title,
			Tags:      tags,
			CreatedAt: FormatTime(created),
			UpdatedAt: FormatTime(updated),
		},
		Body:      n.Body,
		HasHeader: true,
	}
}

// ApplyTo copies the document's title, body and tags onto n. A body-only
// document keeps the note's title.
func (d Document) ApplyTo(n core.Note) core.Note {
	if d.HasHeader {
		n.Title = d.Header.Title
		n.Tags = slices.Clone(d.Header.Tags)
		if created, ok := d.Created(); ok {
			n.CreatedAt = created
		}
		if updated, ok := d.Updated(); ok {
			n.UpdatedAt = updated
		}
	}
	n.Body = d.Body
	return n
}
