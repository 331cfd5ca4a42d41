package cli

import (
	"testing"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"

	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
)

func testSession() *session.Session {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return session.New(2, log)
}

const samplePipeline = `
name: demo
binDir: /proj/bin
env:
  GREETING: hola
processes:
  - name: split
    script: |
      split -l 10 ${reads} chunk_
    shell: bash
    strategy: retry
    maxRetries: 2
    maxForks: 4
    fair: true
    inputs:
      - name: reads
        kind: file
        from: ["/data/reads.fq"]
        arity: "1"
    outputs:
      - name: chunks
        kind: file
        pattern: "chunk_*"
        arity: "1..*"
  - name: count
    script: |
      wc -l ${chunk} > counts.txt
    inputs:
      - name: chunk
        kind: file
        from: split.chunks
    outputs:
      - name: counts
        kind: file
        pattern: counts.txt
        arity: "1"
`

func TestParsePipeline(t *testing.T) {
	Convey("Given a two-process pipeline document", t, func() {
		sess := testSession()
		pl := ParseYaml([]byte(samplePipeline), sess)

		Convey("Both processes should compile with monotone ids", func() {
			So(len(pl.Processes), ShouldEqual, 2)
			So(pl.Processes[0].Name, ShouldEqual, "split")
			So(pl.Processes[1].Name, ShouldEqual, "count")
			So(pl.Processes[0].ID < pl.Processes[1].ID, ShouldBeTrue)
		})

		Convey("Strategy and budgets should land", func() {
			So(pl.Processes[0].Strategy, ShouldEqual, def.StrategyRetry)
			So(pl.Processes[0].MaxRetries, ShouldEqual, 2)
			So(pl.Processes[0].MaxForks, ShouldEqual, 4)
			So(pl.Processes[0].MaxErrors, ShouldEqual, -1)
			So(pl.Processes[0].Fair, ShouldBeTrue)
		})

		Convey("Caching should default on", func() {
			So(pl.Processes[0].Cache, ShouldBeTrue)
			So(pl.Processes[0].Resume, ShouldBeTrue)
		})

		Convey("Arity strings should parse inclusively", func() {
			So(pl.Processes[0].Inputs[0].Arity, ShouldResemble, def.ArityOne)
			So(pl.Processes[0].Outputs[0].Arity, ShouldResemble, def.Arity{Min: 1, Max: -1})
		})

		Convey("Literal feeds should lift path strings for file inputs", func() {
			feed := pl.Feeds["split/reads"]
			So(feed.Ref, ShouldBeEmpty)
			So(len(feed.Literal), ShouldEqual, 1)
			So(feed.Literal[0].Kind, ShouldEqual, def.KindPath)
		})

		Convey("Reference feeds should record the upstream label", func() {
			feed := pl.Feeds["count/chunk"]
			So(feed.Ref, ShouldEqual, "split.chunks")
		})
	})

	Convey("Bad documents should raise config errors", t, func() {
		sess := testSession()

		Convey("An unknown strategy", func() {
			So(func() {
				ParseYaml([]byte("processes:\n  - name: x\n    strategy: shrug\n"), sess)
			}, ShouldPanic)
		})

		Convey("A nameless process", func() {
			So(func() {
				ParseYaml([]byte("processes:\n  - script: echo\n"), sess)
			}, ShouldPanic)
		})

		Convey("A malformed arity", func() {
			So(func() {
				ParseYaml([]byte("processes:\n  - name: x\n    inputs:\n      - name: a\n        arity: banana\n"), sess)
			}, ShouldPanic)
		})
	})
}
