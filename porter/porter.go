/*
	porter prefetches foreign files into the stage area.

	Inputs that live on a filesystem the backend can't reach (an s3 URI,
	a path on another mount) get registered into a batch during staging;
	the batch is transferred — all of it, blocking — before the task is
	handed to the executor.  Holders are built over the *target* paths,
	so everything downstream of staging only ever sees local files.
*/
package porter

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/spacemonkeygo/errors"
)

var Error *errors.ErrorClass = errors.NewClass("PorterError")

// Raised when a batch names a scheme no fetcher was registered for.
var NoFetcherError *errors.ErrorClass = Error.NewClass("NoFetcherError")

/*
	Fetcher moves one foreign file to a local target path.  Implementations
	are scheme-specific and must be safe for concurrent use.
*/
type Fetcher interface {
	Fetch(source string, target string) error
}

type Porter struct {
	fetchers map[string]Fetcher // keyed by URI scheme; "" is plain paths
	log      log15.Logger
}

func New(log log15.Logger, fetchers map[string]Fetcher) *Porter {
	return &Porter{fetchers: fetchers, log: log}
}

type item struct {
	source string
	target string
}

type Batch struct {
	stageDir string
	mu       sync.Mutex
	items    []item
	targets  map[string]string // source → target, for dedup
}

func (p *Porter) NewBatch(stageDir string) *Batch {
	return &Batch{
		stageDir: stageDir,
		targets:  make(map[string]string),
	}
}

/*
	AddToForeign registers a foreign source and returns the local path it
	will land on.  The same source registered twice lands once.

	Targets are content-addressed by source reference, so two sessions
	staging the same URI share a download.
*/
func (b *Batch) AddToForeign(source string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target, seen := b.targets[source]; seen {
		return target
	}
	sum := sha256.Sum256([]byte(source))
	target := filepath.Join(b.stageDir, hex.EncodeToString(sum[:])[:24], baseNameOf(source))
	b.targets[source] = target
	b.items = append(b.items, item{source: source, target: target})
	return target
}

func (b *Batch) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

/*
	Transfer fetches every item in the batch.  Already-present targets are
	skipped (the content-addressed target doubles as a download cache).
	The first error wins; remaining fetches still run to completion so a
	retry has less left to do.
*/
func (p *Porter) Transfer(b *Batch) error {
	b.mu.Lock()
	items := append([]item(nil), b.items...)
	b.mu.Unlock()
	if len(items) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(items))
	for _, it := range items {
		if _, err := os.Stat(it.target); err == nil {
			p.log.Debug("foreign file already staged", "source", it.source)
			continue
		}
		wg.Add(1)
		go func(it item) {
			defer wg.Done()
			errCh <- p.fetchOne(it)
		}(it)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Porter) fetchOne(it item) error {
	scheme := schemeOf(it.source)
	fetcher, ok := p.fetchers[scheme]
	if !ok {
		return NoFetcherError.New("no fetcher registered for scheme %q (source %q)", scheme, it.source)
	}
	if err := os.MkdirAll(filepath.Dir(it.target), 0755); err != nil {
		return Error.Wrap(err)
	}
	p.log.Info("fetching foreign file", "source", it.source, "target", it.target)
	// Fetch to a temp name, rename into place: a torn download must not
	// satisfy the target-exists check on the next run.
	tmp := it.target + ".part"
	if err := fetcher.Fetch(it.source, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, it.target)
}

func schemeOf(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// len==1 dodges windows drive letters; not that we run there, but cheap.
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func baseNameOf(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		return path.Base(u.Path)
	}
	return filepath.Base(source)
}
