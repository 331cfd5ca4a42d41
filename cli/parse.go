package cli

import (
	"strconv"
	"strings"

	"github.com/spacemonkeygo/errors"
	"gopkg.in/yaml.v2"

	"go.rillflow.net/rill/core/session"
	"go.rillflow.net/rill/def"
)

/*
	The pipeline document is yaml; these serial forms mirror it and get
	compiled into def descriptors with ids assigned off the session.
*/
type pipelineSerial struct {
	Name      string            `yaml:"name"`
	BinDir    string            `yaml:"binDir"`
	Env       map[string]string `yaml:"env"`
	Processes []processSerial   `yaml:"processes"`
}

type processSerial struct {
	Name       string        `yaml:"name"`
	Script     string        `yaml:"script"`
	Stub       string        `yaml:"stub"`
	Shell      string        `yaml:"shell"`
	When       string        `yaml:"when"`
	Strategy   string        `yaml:"strategy"`
	MaxRetries int           `yaml:"maxRetries"`
	MaxErrors  *int          `yaml:"maxErrors"`
	MaxForks   int           `yaml:"maxForks"`
	Array      int           `yaml:"array"`
	Fair       bool          `yaml:"fair"`
	HashMode   string        `yaml:"hashMode"`
	Cache      *bool         `yaml:"cache"`
	Resume     *bool         `yaml:"resume"`
	StoreDir   string        `yaml:"storeDir"`
	Publish    []string      `yaml:"publish"`
	Container  string        `yaml:"container"`
	Modules    []string      `yaml:"modules"`
	Conda      string        `yaml:"conda"`
	Spack      string        `yaml:"spack"`
	Arch       string        `yaml:"arch"`
	Inputs     []paramSerial `yaml:"inputs"`
	Outputs    []paramSerial `yaml:"outputs"`
}

type paramSerial struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	From          interface{}   `yaml:"from"` // inputs: literal list, or "proc.output" reference
	Pattern       string        `yaml:"pattern"`
	Arity         string        `yaml:"arity"` // "1", "1..3", "0..*"
	Single        bool          `yaml:"single"`
	Optional      bool          `yaml:"optional"`
	IncludeInputs bool          `yaml:"includeInputs"`
	Type          string        `yaml:"type"` // file|dir|any
	Glob          bool          `yaml:"glob"`
	FollowLinks   bool          `yaml:"followLinks"`
	Hidden        bool          `yaml:"hidden"`
	MaxDepth      int           `yaml:"maxDepth"`
	Eval          string        `yaml:"eval"`
	Expr          string        `yaml:"expr"`
	Tuple         []paramSerial `yaml:"tuple"`
}

/*
	Pipeline is the compiled document: descriptors plus the input feed
	table the runner wires channels from.
*/
type Pipeline struct {
	Name      string
	BinDir    string
	Env       map[string]string
	Processes []*def.Process

	// Feeds maps "proc/input" to either a literal value list or an
	// upstream reference "proc.output".
	Feeds map[string]Feed
}

type Feed struct {
	Literal []def.Value
	Ref     string // "proc.output"; empty when literal
}

func ParseYaml(ser []byte, sess *session.Session) *Pipeline {
	doc := pipelineSerial{}
	if err := yaml.Unmarshal(ser, &doc); err != nil {
		panic(def.ConfigError.New("Could not parse pipeline: %s", errors.GetMessage(err)))
	}
	pl := &Pipeline{
		Name:   doc.Name,
		BinDir: doc.BinDir,
		Env:    doc.Env,
		Feeds:  make(map[string]Feed),
	}
	for _, ps := range doc.Processes {
		pl.Processes = append(pl.Processes, compileProcess(ps, sess, pl))
	}
	return pl
}

func compileProcess(ser processSerial, sess *session.Session, pl *Pipeline) *def.Process {
	if ser.Name == "" {
		panic(def.ConfigError.New("every process needs a name"))
	}
	strategy, ok := def.ParseStrategy(ser.Strategy)
	if !ok {
		panic(def.ConfigError.New("process %q: unknown error strategy %q", ser.Name, ser.Strategy))
	}
	proc := &def.Process{
		ID:         sess.NextProcessID(),
		Name:       ser.Name,
		Script:     ser.Script,
		Stub:       ser.Stub,
		Shell:      ser.Shell,
		When:       ser.When,
		Strategy:   strategy,
		MaxRetries: ser.MaxRetries,
		MaxErrors:  -1,
		MaxForks:   ser.MaxForks,
		Array:      ser.Array,
		Fair:       ser.Fair,
		HashMode:   parseHashMode(ser.Name, ser.HashMode),
		Cache:      true,
		Resume:     true,
		StoreDir:   ser.StoreDir,
		Publish:    ser.Publish,
		Container:  ser.Container,
		Modules:    ser.Modules,
		CondaEnv:   ser.Conda,
		SpackEnv:   ser.Spack,
		Arch:       ser.Arch,
	}
	if ser.MaxErrors != nil {
		proc.MaxErrors = *ser.MaxErrors
	}
	if ser.Cache != nil {
		proc.Cache = *ser.Cache
	}
	if ser.Resume != nil {
		proc.Resume = *ser.Resume
	}
	for i, ins := range ser.Inputs {
		param := compileInput(ser.Name, ins, i)
		proc.Inputs = append(proc.Inputs, param)
		pl.Feeds[ser.Name+"/"+param.Name] = compileFeed(ser.Name, ins)
	}
	for i, outs := range ser.Outputs {
		proc.Outputs = append(proc.Outputs, compileOutput(ser.Name, outs, i))
	}
	return proc
}

func compileInput(procName string, ser paramSerial, index int) def.InputParam {
	kind, ok := map[string]def.InputKind{
		"":      def.InVal,
		"value": def.InVal,
		"file":  def.InFile,
		"env":   def.InEnv,
		"stdin": def.InStdin,
		"each":  def.InEach,
		"tuple": def.InTuple,
	}[ser.Kind]
	if !ok {
		panic(def.ConfigError.New("process %q: unknown input kind %q", procName, ser.Kind))
	}
	param := def.InputParam{
		Kind:        kind,
		Name:        ser.Name,
		Index:       index,
		Arity:       parseArity(procName, ser.Arity),
		Single:      ser.Single,
		FilePattern: ser.Pattern,
		Glob:        ser.Glob,
		FollowLinks: ser.FollowLinks,
		Hidden:      ser.Hidden,
		MaxDepth:    ser.MaxDepth,
	}
	for i, nested := range ser.Tuple {
		param.Nested = append(param.Nested, compileInput(procName, nested, i))
	}
	return param
}

func compileOutput(procName string, ser paramSerial, index int) def.OutputParam {
	kind, ok := map[string]def.OutputKind{
		"stdout":  def.OutStdout,
		"file":    def.OutFile,
		"":        def.OutVal,
		"value":   def.OutVal,
		"env":     def.OutEnv,
		"eval":    def.OutEval,
		"default": def.OutDefault,
		"tuple":   def.OutTuple,
	}[ser.Kind]
	if !ok {
		panic(def.ConfigError.New("process %q: unknown output kind %q", procName, ser.Kind))
	}
	param := def.OutputParam{
		Kind:          kind,
		Name:          ser.Name,
		Index:         index,
		Arity:         parseArity(procName, ser.Arity),
		Optional:      ser.Optional,
		IncludeInputs: ser.IncludeInputs,
		Type:          parsePathType(procName, ser.Type),
		FilePattern:   ser.Pattern,
		Glob:          ser.Glob,
		FollowLinks:   ser.FollowLinks,
		Hidden:        ser.Hidden,
		MaxDepth:      ser.MaxDepth,
		EvalCommand:   ser.Eval,
		Expr:          ser.Expr,
	}
	for i, nested := range ser.Tuple {
		param.Nested = append(param.Nested, compileOutput(procName, nested, i))
	}
	return param
}

func compileFeed(procName string, ser paramSerial) Feed {
	switch from := ser.From.(type) {
	case nil:
		return Feed{}
	case string:
		if !strings.Contains(from, ".") {
			panic(def.ConfigError.New("process %q input %q: feed reference %q should look like \"proc.output\"", procName, ser.Name, from))
		}
		return Feed{Ref: from}
	case []interface{}:
		values := make([]def.Value, len(from))
		for i, raw := range from {
			values[i] = liftFeedValue(ser, raw)
		}
		return Feed{Literal: values}
	default:
		return Feed{Literal: []def.Value{liftFeedValue(ser, from)}}
	}
}

/*
	liftFeedValue lifts one literal feed element.  Strings feeding file
	or stdin inputs are path references, not content; anything else goes
	through the ordinary lift.
*/
func liftFeedValue(ser paramSerial, raw interface{}) def.Value {
	v := def.Lift(raw)
	if (ser.Kind == "file" || ser.Kind == "stdin") && v.Kind == def.KindString {
		return def.PathV(v.Str)
	}
	if ser.Kind == "file" && v.Kind == def.KindList {
		for i, e := range v.List {
			if e.Kind == def.KindString {
				v.List[i] = def.PathV(e.Str)
			}
		}
	}
	return v
}

func parseArity(procName string, ser string) def.Arity {
	if ser == "" {
		return def.Arity{}
	}
	parts := strings.SplitN(ser, "..", 2)
	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		panic(def.ConfigError.New("process %q: bad arity %q", procName, ser))
	}
	if len(parts) == 1 {
		return def.Arity{Min: min, Max: min}
	}
	maxRaw := strings.TrimSpace(parts[1])
	if maxRaw == "*" {
		return def.Arity{Min: min, Max: -1}
	}
	max, err := strconv.Atoi(maxRaw)
	if err != nil {
		panic(def.ConfigError.New("process %q: bad arity %q", procName, ser))
	}
	return def.Arity{Min: min, Max: max}
}

func parseHashMode(procName string, ser string) def.HashMode {
	switch ser {
	case "", "standard":
		return def.HashStandard
	case "deep":
		return def.HashDeep
	case "lenient":
		return def.HashLenient
	default:
		panic(def.ConfigError.New("process %q: unknown hash mode %q", procName, ser))
	}
}

func parsePathType(procName string, ser string) def.PathType {
	switch ser {
	case "", "any":
		return def.PathAny
	case "file":
		return def.PathFile
	case "dir":
		return def.PathDir
	default:
		panic(def.ConfigError.New("process %q: unknown path type %q", procName, ser))
	}
}
