package fscache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"

	"go.rillflow.net/rill/cache"
	"go.rillflow.net/rill/def"
	"go.rillflow.net/rill/testutil"
)

func quietLog() log15.Logger {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return log
}

func TestTraceRoundTrip(t *testing.T) {
	testutil.WithTmpdir(func(tmpDir string) {
		Convey("Given a work dir with a written trace", t, func() {
			store := New(tmpDir, quietLog())
			proc := &def.Process{Name: "p"}
			fp := def.Fingerprint{0xab, 0xcd}
			workDir := store.WorkDirFor(fp)
			So(os.MkdirAll(workDir, 0755), ShouldBeNil)

			tr := cache.TraceRecord{
				Status:      "COMPLETED",
				ExitCode:    0,
				WorkDir:     workDir,
				StartedAt:   100,
				CompletedAt: 250,
				Context:     map[string]string{"n": "5"},
			}
			So(WriteTrace(workDir, tr), ShouldBeNil)

			Convey("Lookup should reheat the record", func() {
				entry, err := store.Lookup(fp, proc)
				So(err, ShouldBeNil)
				So(entry, ShouldNotBeNil)
				So(entry.Trace.IsCompleted(), ShouldBeTrue)
				So(entry.Trace.ExitCode, ShouldEqual, 0)
				So(entry.Trace.WorkDir, ShouldEqual, workDir)
				So(entry.Context["n"], ShouldEqual, "5")
			})

			Convey("A different fingerprint should miss", func() {
				entry, err := store.Lookup(def.Fingerprint{0x01}, proc)
				So(err, ShouldBeNil)
				So(entry, ShouldBeNil)
			})

			Convey("A mangled trace should read as a miss, not an error", func() {
				So(os.WriteFile(filepath.Join(workDir, cache.TraceFilename), []byte("{nope"), 0644), ShouldBeNil)
				entry, err := store.Lookup(fp, proc)
				So(err, ShouldBeNil)
				So(entry, ShouldBeNil)
			})
		})
	})
}

func TestWorkDirDerivation(t *testing.T) {
	Convey("Work dirs should split on the first hex byte", t, func() {
		fp := def.Fingerprint{0xab, 0xcd}
		dir := cache.DeriveWorkDir("/root", fp)
		So(dir, ShouldStartWith, "/root/ab/")
		So(filepath.Dir(dir), ShouldEqual, "/root/ab")

		Convey("And derive deterministically", func() {
			So(cache.DeriveWorkDir("/root", fp), ShouldEqual, dir)
		})
	})
}

func TestFailedStatusIsNotCompleted(t *testing.T) {
	Convey("Only COMPLETED traces should qualify for reuse", t, func() {
		So(cache.TraceRecord{Status: "FAILED"}.IsCompleted(), ShouldBeFalse)
		So(cache.TraceRecord{Status: "ABORTED"}.IsCompleted(), ShouldBeFalse)
		So(cache.TraceRecord{Status: "COMPLETED"}.IsCompleted(), ShouldBeTrue)
	})
}
