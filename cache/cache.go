/*
	cache is the read-only client view of prior runs.

	A cache entry pairs the trace record a completed task left behind with
	the context snapshot it stored for lazy value outputs.  The processor
	only ever *reads* entries; writing traces is the executor's business,
	at the moment it finalizes a work dir.
*/
package cache

import (
	"path/filepath"

	"github.com/polydawn/refmt/obj/atlas"

	"go.rillflow.net/rill/def"
)

// TraceFilename is the per-work-dir record the fs cache reads back.
const TraceFilename = ".rill.trace.json"

/*
	TraceRecord is what a completed task leaves behind in its work dir.
	It is the unit of resumability: a later session with the same
	fingerprint reads this instead of re-running.
*/
type TraceRecord struct {
	Status      string            // "COMPLETED", "FAILED", "ABORTED"
	ExitCode    int
	WorkDir     string            // URI; plain paths for the default filesystem
	StartedAt   int64             // unix millis
	CompletedAt int64             // unix millis
	Context     map[string]string // stored context for lazy value outputs
	PeakRSS     int64             // metrics; zero when the backend can't say
	CPUTime     int64
}

func (tr TraceRecord) IsCompleted() bool {
	return tr.Status == "COMPLETED"
}

var (
	TraceRecord_AtlasEntry = atlas.BuildEntry(TraceRecord{}).StructMap().Autogenerate().Complete()
)

var Atlas = atlas.MustBuild(
	TraceRecord_AtlasEntry,
)

/*
	Entry is one cache hit candidate.  The submission loop still verifies
	the work dir's actual contents before trusting it.
*/
type Entry struct {
	Trace   TraceRecord
	Context map[string]string
}

/*
	Cache is the lookup contract the processor consumes.  A nil entry with
	nil error means "no prior run known", which is the common case and not
	worth an error allocation.
*/
type Cache interface {
	Lookup(fp def.Fingerprint, proc *def.Process) (*Entry, error)
}

/*
	DeriveWorkDir maps a fingerprint to its content-addressed work dir
	under a root.  The two-level split keeps any one directory from
	accumulating the whole session.
*/
func DeriveWorkDir(root string, fp def.Fingerprint) string {
	hex := fp.Hex()
	return filepath.Join(root, hex[0:2], hex[2:])
}
