package porter

import (
	"os"
	"sync"
	"testing"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"

	"go.rillflow.net/rill/testutil"
)

func quietLog() log15.Logger {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return log
}

type stubFetcher struct {
	mu      sync.Mutex
	fetched []string
}

func (f *stubFetcher) Fetch(source string, target string) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, source)
	f.mu.Unlock()
	return os.WriteFile(target, []byte("content-of:"+source), 0644)
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func TestBatchRegistration(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Given a fresh batch", t, func() {
			p := New(quietLog(), map[string]Fetcher{"s3": &stubFetcher{}})
			batch := p.NewBatch(tmpDir)

			Convey("Targets should land under the stage dir with the source's base name", func() {
				target := batch.AddToForeign("s3://bucket/ref/genome.fa")
				So(target, ShouldStartWith, tmpDir)
				So(target, ShouldEndWith, "genome.fa")
			})

			Convey("The same source should dedup to one target", func() {
				t1 := batch.AddToForeign("s3://bucket/a.txt")
				t2 := batch.AddToForeign("s3://bucket/a.txt")
				So(t1, ShouldEqual, t2)
				So(batch.Size(), ShouldEqual, 1)
			})

			Convey("Distinct sources sharing a base name should not collide", func() {
				t1 := batch.AddToForeign("s3://bucket/left/data.txt")
				t2 := batch.AddToForeign("s3://bucket/right/data.txt")
				So(t1, ShouldNotEqual, t2)
			})
		})
	})
}

func TestTransfer(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Transfer should fetch every item and land real files", t, func() {
			fetcher := &stubFetcher{}
			p := New(quietLog(), map[string]Fetcher{"s3": fetcher})
			batch := p.NewBatch(tmpDir)
			t1 := batch.AddToForeign("s3://bucket/one.txt")
			t2 := batch.AddToForeign("s3://bucket/two.txt")

			So(p.Transfer(batch), ShouldBeNil)
			for _, target := range []string{t1, t2} {
				content, err := os.ReadFile(target)
				So(err, ShouldBeNil)
				So(string(content), ShouldStartWith, "content-of:")
			}

			Convey("A second transfer should skip already-staged targets", func() {
				fetched := fetcher.count()
				So(p.Transfer(batch), ShouldBeNil)
				So(fetcher.count(), ShouldEqual, fetched)
			})
		})

		Convey("An unregistered scheme should fail the transfer", t, func() {
			p := New(quietLog(), nil)
			batch := p.NewBatch(tmpDir)
			batch.AddToForeign("gs://bucket/thing")
			err := p.Transfer(batch)
			So(err, ShouldNotBeNil)
			So(NoFetcherError.Contains(err), ShouldBeTrue)
		})

		Convey("An empty batch should transfer trivially", t, func() {
			p := New(quietLog(), nil)
			So(p.Transfer(p.NewBatch(tmpDir)), ShouldBeNil)
		})
	})
}
