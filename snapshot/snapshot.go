package snapshot

import (
	"time"

	"seqlog/domain/replog"
)

const fileName = "snapshot.bin"

type Snapshot struct {
	// Head is the last position covered. Records holds every record up to
	// and including it.
	Head    uint64
	Created time.Time
	Records []replog.Record
}
