/*
	fscache looks prior runs up on the local filesystem.

	Work dirs are laid out content-addressed under a root:

		<root>/<hex[0:2]>/<hex[2:]>/

	and a completed run leaves a trace record file at the dir root.  A
	lookup is: derive the dir, read the trace, hand both back.  Any
	malformed trace is treated as a miss with a warning, not an error;
	a half-written record from a crashed run must never wedge a resume.
*/
package fscache

import (
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/def"
)

type Store struct {
	root string
	log  log15.Logger
}

var _ cache.Cache = &Store{}

func New(root string, log log15.Logger) *Store {
	return &Store{root: root, log: log}
}

// WorkDirFor derives the content-addressed dir for a fingerprint.
// The submission loop derives the same path when it decides to create
// a fresh dir.
func (s *Store) WorkDirFor(fp def.Fingerprint) string {
	return cache.DeriveWorkDir(s.root, fp)
}

func (s *Store) Lookup(fp def.Fingerprint, proc *def.Process) (*cache.Entry, error) {
	dir := s.WorkDirFor(fp)
	f, err := os.Open(filepath.Join(dir, cache.TraceFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	tr := cache.TraceRecord{}
	if err := refmt.NewUnmarshallerAtlased(json.DecodeOptions{}, f, cache.Atlas).Unmarshal(&tr); err != nil {
		s.log.Warn("unparsable trace record; treating as cache miss",
			"process", proc.Name, "dir", dir, "err", err)
		return nil, nil
	}
	if tr.WorkDir == "" {
		tr.WorkDir = dir
	}
	return &cache.Entry{Trace: tr, Context: tr.Context}, nil
}

/*
	WriteTrace drops a trace record into a work dir.  The executors call
	this as the last thing they do; its presence is what makes the dir
	eligible for reuse.
*/
func WriteTrace(workDir string, tr cache.TraceRecord) error {
	f, err := os.OpenFile(filepath.Join(workDir, cache.TraceFilename), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return refmt.NewMarshallerAtlased(json.EncodeOptions{}, f, cache.Atlas).Marshal(tr)
}
