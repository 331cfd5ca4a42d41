package cli

import (
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/inconshreveable/log15"
	"github.com/spacemonkeygo/errors"
	"github.com/spacemonkeygo/errors/try"

	"go.rillflow.net/rill/cache/fscache"
	"go.rillflow.net/rill/core/processor"
	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
	executordispatch "go.rillflow.net/rill/executor/dispatch"
	"go.rillflow.net/rill/fingerprint"
	"go.rillflow.net/rill/porter"
	portercopy "go.rillflow.net/rill/porter/impl/copy"
	porters3 "go.rillflow.net/rill/porter/impl/s3"
)

func LoadPipelineFromFile(path string, sess *session.Session) (pl *Pipeline) {
	filename, _ := filepath.Abs(path)

	content, err := ioutil.ReadFile(filename)
	if err != nil {
		panic(Error.Wrap(fmt.Errorf("Could not read pipeline file %q: %s", filename, err)))
	}

	try.Do(func() {
		pl = ParseYaml(content, sess)
	}).Catch(def.ConfigError, func(err *errors.Error) {
		panic(Error.Wrap(err))
	}).Done()
	return
}

/*
	RunPipeline wires one session's worth of machinery — executor, cache,
	porter, lock table, one processor per process declaration — feeds the
	literal inputs, and drains the terminal outputs.  Returns the values
	each unconsumed output channel emitted, keyed "proc.output".
*/
func RunPipeline(pl *Pipeline, sess *session.Session, executorName string, baseDir string, journal io.Writer) (map[string][]def.Value, bool) {
	log := sess.Log

	exec := executordispatch.Get(executorName, baseDir, pl.BinDir, pl.Env, log)
	cacheStore := fscache.New(exec.WorkDirRoot(), log)
	locker := fingerprint.NewLockTable()

	fetchers := map[string]porter.Fetcher{
		"": portercopy.Fetcher{},
	}
	if s3Fetcher, err := porters3.NewFetcher(); err == nil {
		fetchers["s3"] = s3Fetcher
	} else {
		log.Debug("s3 fetcher not available", "err", err)
	}
	port := porter.New(log, fetchers)

	// Build every processor first so references can wire to channels.
	procs := make(map[string]*processor.Processor, len(pl.Processes))
	var faulted int32
	for _, procDef := range pl.Processes {
		p := processor.New(procDef, sess, exec, cacheStore, port, locker)
		p.OnFault = func(f *processor.TaskFault) {
			atomic.StoreInt32(&faulted, 1)
		}
		procs[procDef.Name] = p
	}

	// Wire feeds: literals pump in from goroutines; references pipe an
	// upstream output channel into the downstream port.
	consumed := make(map[string]bool)
	for _, procDef := range pl.Processes {
		p := procs[procDef.Name]
		for i, in := range procDef.Inputs {
			feed := pl.Feeds[procDef.Name+"/"+in.Name]
			ch := p.In[i]
			switch {
			case feed.Ref != "":
				parts := strings.SplitN(feed.Ref, ".", 2)
				up, known := procs[parts[0]]
				if !known {
					panic(Error.New("input %s/%s references unknown process %q", procDef.Name, in.Name, parts[0]))
				}
				src, known := up.Out[parts[1]]
				if !known {
					panic(Error.New("input %s/%s references unknown output %q of process %q", procDef.Name, in.Name, parts[1], parts[0]))
				}
				consumed[feed.Ref] = true
				go pipe(src, ch)
			case in.Kind == def.InEach:
				// an each-feed delivers its whole collection as one value
				go func(values []def.Value, ch chan def.Value) {
					ch <- def.ListV(values...)
					ch <- def.Poison
				}(feed.Literal, ch)
			default:
				go func(values []def.Value, ch chan def.Value) {
					for _, v := range values {
						ch <- v
					}
					ch <- def.Poison
				}(feed.Literal, ch)
			}
		}
	}

	// Terminal outputs drain into the result set.
	results := make(map[string][]def.Value)
	resultCh := make(chan [2]interface{})
	sinks := 0
	for _, procDef := range pl.Processes {
		for _, out := range procDef.Outputs {
			label := procDef.Name + "." + out.Name
			if consumed[label] {
				continue
			}
			sinks++
			go func(label string, src chan def.Value) {
				var got []def.Value
				for v := range src {
					if v.IsPoison() {
						break
					}
					got = append(got, v)
				}
				resultCh <- [2]interface{}{label, got}
			}(label, procs[procDef.Name].Out[out.Name])
		}
	}

	for _, p := range procs {
		p.Start()
	}
	for i := 0; i < sinks; i++ {
		pair := <-resultCh
		results[pair[0].(string)] = pair[1].([]def.Value)
	}
	sess.Wait()

	hadFault := atomic.LoadInt32(&faulted) != 0
	if hadFault {
		log.Error("pipeline finished with a fault")
	} else {
		log.Info("pipeline finished")
	}
	return results, hadFault
}

func pipe(src chan def.Value, dst chan def.Value) {
	for v := range src {
		dst <- v
		if v.IsPoison() {
			return
		}
	}
	dst <- def.Poison
}

// Set up a logger for terminal output.
func NewLogger(journal io.Writer) log15.Logger {
	log := log15.New()
	log.SetHandler(log15.StreamHandler(journal, log15.TerminalFormat()))
	return log
}
