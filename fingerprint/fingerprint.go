/*
	fingerprint computes the content hash that names a task's work.

	The hash is sha256 over a canonical cbor encoding of an ordered key
	list.  Order matters for the top list; values declared as bags
	(unordered file sets) contribute order-insensitively, by hashing each
	member separately and folding the sorted member digests.

	The three modes differ only in how file values contribute:

		lenient   the original source reference, nothing else
		standard  stage name, size, and mtime of the staged file
		deep      stage name and full content hash

	Synthetic holders always contribute their literal content; the random
	temp path they were spilled to never reaches the hasher.
*/
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/spacemonkeygo/errors"
	"github.com/ugorji/go/codec"

	"go.rillflow.net/rill/def"
)

/*
	Key is one entry in the ordered identity list.  Typical keys: the
	session uuid, the process name, the command source, each (input name,
	input value) pair, referenced global variables, bin scripts invoked by
	name, the configured container/modules/env, and a stub marker when
	stubs are active.
*/
type Key struct {
	Name  string
	Value def.Value
	Bag   bool // order-insensitive membership for KindList values
}

type Hasher struct {
	Mode def.HashMode
}

// Canonical handle: map keys sort, so the same tree always yields the
// same bytes.  One shared instance; the handle is stateless after setup.
var cborHandle = func() *codec.CborHandle {
	h := new(codec.CborHandle)
	h.Canonical = true
	return h
}()

func (h Hasher) Hash(keys []Key) def.Fingerprint {
	top := sha256.New()
	for _, k := range keys {
		var d [sha256.Size]byte
		if k.Bag && k.Value.Kind == def.KindList {
			d = h.bagDigest(k.Value.List)
		} else {
			d = h.valueDigest(k.Value)
		}
		encodeInto(top, []interface{}{k.Name, d[:]})
	}
	var out def.Fingerprint
	copy(out[:], top.Sum(nil))
	return out
}

/*
	Rehash folds an attempt counter into a prior fingerprint so each retry
	gets a distinct work directory.  Attempt 1 is still distinct from the
	raw base hash; the submission loop always goes through here.
*/
func Rehash(prev def.Fingerprint, attempt int) def.Fingerprint {
	hasher := sha256.New()
	hasher.Write(prev[:])
	var a [8]byte
	binary.BigEndian.PutUint64(a[:], uint64(attempt))
	hasher.Write(a[:])
	var out def.Fingerprint
	copy(out[:], hasher.Sum(nil))
	return out
}

func encodeInto(w io.Writer, x interface{}) {
	// Buffer first: codec can write in several chunks and we don't want
	// any chance of a partial write changing the stream shape.
	var buf bytes.Buffer
	codec.NewEncoder(&buf, cborHandle).MustEncode(x)
	w.Write(buf.Bytes())
}

func (h Hasher) bagDigest(members []def.Value) [sha256.Size]byte {
	digests := make([][]byte, len(members))
	for i, m := range members {
		d := h.valueDigest(m)
		digests[i] = append([]byte(nil), d[:]...)
	}
	sort.Slice(digests, func(i, j int) bool {
		return bytes.Compare(digests[i], digests[j]) < 0
	})
	fold := sha256.New()
	for _, d := range digests {
		fold.Write(d)
	}
	var out [sha256.Size]byte
	copy(out[:], fold.Sum(nil))
	return out
}

func (h Hasher) valueDigest(v def.Value) [sha256.Size]byte {
	hasher := sha256.New()
	encodeInto(hasher, h.represent(v))
	var out [sha256.Size]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

/*
	represent lowers a Value into the plain tree that gets cbor encoded.
	Every kind carries a distinct tag so e.g. the string "5" and the
	number 5 can never collide.
*/
func (h Hasher) represent(v def.Value) interface{} {
	switch v.Kind {
	case def.KindNil:
		return []interface{}{"nil"}
	case def.KindBool:
		return []interface{}{"bool", v.Bool}
	case def.KindNum:
		return []interface{}{"num", v.Num}
	case def.KindString:
		return []interface{}{"str", v.Str}
	case def.KindPath:
		return []interface{}{"path", v.Str}
	case def.KindList:
		members := make([]interface{}, len(v.List))
		for i, e := range v.List {
			d := h.valueDigest(e)
			members[i] = d[:]
		}
		return []interface{}{"list", members}
	case def.KindMap:
		m := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			d := h.valueDigest(e)
			m[k] = d[:]
		}
		return []interface{}{"map", m}
	case def.KindFile:
		return h.representFile(v.File)
	default:
		panic(errors.ProgrammerError.New("control sentinel reached the fingerprint hasher"))
	}
}

func (h Hasher) representFile(holder *def.FileHolder) interface{} {
	if holder == nil {
		panic(def.UnrecoverableError.New("nil file holder in fingerprint key list"))
	}
	if holder.Origin == def.OriginSynthetic {
		// Literal content, not the spill path.
		return []interface{}{"file", holder.StageName, "lit", holder.Source}
	}
	switch h.Mode {
	case def.HashLenient:
		return []interface{}{"file", holder.Source}
	case def.HashDeep:
		return []interface{}{"file", holder.StageName, "content", contentDigest(holder.Staged)}
	default: // standard
		fi, err := os.Stat(holder.Staged)
		if err != nil {
			panic(errors.IOError.Wrap(err))
		}
		return []interface{}{"file", holder.StageName, "meta", fi.Size(), fi.ModTime().UnixNano()}
	}
}

func contentDigest(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		panic(errors.IOError.Wrap(err))
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		panic(errors.IOError.Wrap(err))
	}
	return hasher.Sum(nil)
}
