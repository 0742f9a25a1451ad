package browse

import (
	"github.com/tabuladb/tabula/pkg/exec"
	"github.com/tabuladb/tabula/pkg/schema"
)

// Pagination reports the window a list response covers. TotalPages is
// derived from TotalCount at the served (clamped) page size, so a client
// can page without counting itself.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int64 `json:"total_pages"`
}

// Envelope is the response body shared by every record operation: the
// records, plus whichever context the operation carries. Pagination fields
// sit at the top level; single-record fetches carry the table's relations
// instead, so a client can discover the expandable routes.
type Envelope struct {
	Records []exec.Record `json:"records"`
	*Pagination
	Relations []schema.Relation `json:"relations,omitempty"`
}

func listEnvelope(records []exec.Record, page, size int, total int64) *Envelope {
	if records == nil {
		records = []exec.Record{}
	}
	return &Envelope{
		Records: records,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   size,
			TotalCount: total,
			TotalPages: totalPages(total, size),
		},
	}
}

func recordEnvelope(rec exec.Record, relations []schema.Relation) *Envelope {
	return &Envelope{Records: []exec.Record{rec}, Relations: relations}
}

// totalPages rounds up; an empty result is zero pages.
func totalPages(total int64, size int) int64 {
	if size <= 0 {
		return 0
	}
	return (total + int64(size) - 1) / int64(size)
}
