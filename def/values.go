package def

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spacemonkeygo/errors"
)

type ValueKind byte

const (
	KindNil ValueKind = iota
	KindBool
	KindNum
	KindString
	KindPath
	KindList
	KindMap
	KindFile

	// Control sentinels.  These never appear inside user data; they only
	// travel bare on channels (poison) or as a bound output slot (missing).
	KindPoison
	KindMissing
)

/*
	Value is the tagged variant that flows through channels and task
	contexts.  Normalization and staging routines dispatch on the Kind
	tag rather than reflecting over interface{} soup.

	Only the field matching the Kind is meaningful; the rest stay zero.
*/
type Value struct {
	Kind ValueKind

	Bool bool
	Num  float64
	Str  string           // string payload; also the path string for KindPath
	List []Value          // KindList
	Map  map[string]Value // KindMap
	File *FileHolder      // KindFile
}

// Poison is the sentinel that closes a channel.  Exactly one is bound per
// output channel when a process terminates cleanly.
var Poison = Value{Kind: KindPoison}

// MissingOutput marks an optional output that matched nothing; the
// sequencer suppresses downstream emission for that slot only.
var MissingOutput = Value{Kind: KindMissing}

func Nil() Value                { return Value{Kind: KindNil} }
func BoolV(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func NumV(n float64) Value      { return Value{Kind: KindNum, Num: n} }
func StringV(s string) Value    { return Value{Kind: KindString, Str: s} }
func PathV(p string) Value      { return Value{Kind: KindPath, Str: p} }
func ListV(vs ...Value) Value   { return Value{Kind: KindList, List: vs} }
func MapV(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func FileV(h *FileHolder) Value { return Value{Kind: KindFile, File: h} }

func (v Value) IsPoison() bool  { return v.Kind == KindPoison }
func (v Value) IsMissing() bool { return v.Kind == KindMissing }

/*
	Stringify renders a value the way it should appear when spliced into a
	command or exported into an environment variable.  File holders render
	as their staged name, because that's what the command will see.
*/
func (v Value) Stringify() string {
	switch v.Kind {
	case KindNil:
		return ""
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNum:
		if v.Num == float64(int64(v.Num)) {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString, KindPath:
		return v.Str
	case KindFile:
		return v.File.StageName
	case KindList:
		out := ""
		for i, e := range v.List {
			if i > 0 {
				out += " "
			}
			out += e.Stringify()
		}
		return out
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := ""
		for i, k := range keys {
			if i > 0 {
				out += " "
			}
			out += fmt.Sprintf("%s=%s", k, v.Map[k].Stringify())
		}
		return out
	default:
		panic(errors.ProgrammerError.New("stringify on control sentinel %d", v.Kind))
	}
}

/*
	Plain lowers a Value back into ordinary go types (string keyed maps,
	slices, float64, bool, string).  Guard and output expressions evaluate
	over the plain forms.
*/
func (v Value) Plain() interface{} {
	switch v.Kind {
	case KindNil:
		return nil
	case KindBool:
		return v.Bool
	case KindNum:
		return v.Num
	case KindString, KindPath:
		return v.Str
	case KindFile:
		return v.File.StageName
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.Plain()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.Plain()
		}
		return out
	default:
		return nil
	}
}

/*
	Lift raises ordinary go values (as produced by yaml parsing or channel
	feeds) into the tagged variant.  Unknown types are an error in the
	caller's court, not something to limp past.
*/
func Lift(x interface{}) Value {
	switch x2 := x.(type) {
	case nil:
		return Nil()
	case Value:
		return x2
	case bool:
		return BoolV(x2)
	case int:
		return NumV(float64(x2))
	case int64:
		return NumV(float64(x2))
	case float64:
		return NumV(x2)
	case string:
		return StringV(x2)
	case []interface{}:
		vs := make([]Value, len(x2))
		for i, e := range x2 {
			vs[i] = Lift(e)
		}
		return ListV(vs...)
	case map[interface{}]interface{}: // yaml.v2's favorite shape
		m := make(map[string]Value, len(x2))
		for k, e := range x2 {
			m[fmt.Sprintf("%v", k)] = Lift(e)
		}
		return MapV(m)
	case map[string]interface{}:
		m := make(map[string]Value, len(x2))
		for k, e := range x2 {
			m[k] = Lift(e)
		}
		return MapV(m)
	default:
		panic(ValidationError.New("cannot lift value of type %T into a channel value", x))
	}
}

type FileOrigin byte

const (
	OriginLocal FileOrigin = iota
	OriginForeign
	OriginSynthetic
)

/*
	FileHolder pairs an input file's original reference with the name and
	path it will wear inside the task work dir.  For synthetic holders the
	source is the literal value stringified; fingerprinting hashes that
	literal, never the random temp path it got written to.

	Collections of holders have bag semantics: membership matters, order
	doesn't, so a shuffled input set still fingerprints identically.
*/
type FileHolder struct {
	Source    string     // original reference (path, URI, or literal content for synthetic)
	Staged    string     // absolute path after staging
	StageName string     // name visible inside the work dir
	Origin    FileOrigin
}
