// Package json implements JSON.* path-addressed operations (spec §4.D.7) over documents stored
// as raw bytes through the string engine. Paths are the restricted JSONPath subset the spec
// defines: `$`, `$.field`, `$.items[n]`, `$.items[*]`.
package json

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/keydir"
	"github.com/redlite/redlite/internal/storage"
	strengine "github.com/redlite/redlite/internal/types/strings"
)

// Engine executes JSON.* commands over documents held by the string engine.
type Engine struct {
	Dir     *keydir.Directory
	Strings *strengine.Engine
}

// New builds a JSON Engine sharing dir with the rest of the type engines.
func New(dir *keydir.Directory) *Engine {
	return &Engine{Dir: dir, Strings: strengine.New(dir)}
}

// translatePath converts the spec's restricted JSONPath subset into gjson/sjson's dotted path
// syntax: "$" -> "", "$.field" -> "field", "$.items[2]" -> "items.2", "$.items[*]" -> "items.#".
func translatePath(path string) (string, error) {
	if path == "$" || path == "" {
		return "", nil
	}
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")

	var out []string
	for _, seg := range strings.Split(p, ".") {
		for seg != "" {
			i := strings.IndexByte(seg, '[')
			if i < 0 {
				out = append(out, seg)
				seg = ""
				continue
			}
			if i > 0 {
				out = append(out, seg[:i])
			}
			j := strings.IndexByte(seg, ']')
			if j < 0 || j < i {
				return "", fmt.Errorf("%w: malformed JSON path %q", engine.ErrSyntax, path)
			}
			idx := seg[i+1 : j]
			if idx == "*" {
				out = append(out, "#")
			} else {
				if _, err := strconv.Atoi(idx); err != nil {
					return "", fmt.Errorf("%w: malformed JSON path %q", engine.ErrSyntax, path)
				}
				out = append(out, idx)
			}
			seg = seg[j+1:]
		}
	}
	return strings.Join(out, "."), nil
}

func (e *Engine) load(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte) ([]byte, error) {
	doc, ok, err := e.Strings.Get(ctx, tx, db, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engine.ErrNoSuchKey
	}
	return doc, nil
}

// Set writes value at path within the document at name, creating the document (and, via sjson,
// any intermediate containers) as needed.
func (e *Engine) Set(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string, value []byte) error {
	gpath, err := translatePath(path)
	if err != nil {
		return err
	}

	var base []byte
	doc, err := e.load(ctx, tx, db, name)
	switch {
	case err == nil:
		base = doc
	case err == engine.ErrNoSuchKey:
		base = []byte("{}")
	default:
		return err
	}

	if gpath == "" {
		base = value
	} else {
		base, err = sjson.SetRawBytes(base, gpath, value)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrSyntax, err)
		}
	}

	_, err = e.Strings.Set(ctx, tx, db, name, base, strengine.SetOpts{})
	return err
}

// Get returns the raw JSON at path, or nil+false if the document or path is absent.
func (e *Engine) Get(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string) ([]byte, bool, error) {
	doc, err := e.load(ctx, tx, db, name)
	if err == engine.ErrNoSuchKey {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	gpath, err := translatePath(path)
	if err != nil {
		return nil, false, err
	}
	if gpath == "" {
		return doc, true, nil
	}

	res := gjson.GetBytes(doc, gpath)
	if !res.Exists() {
		return nil, false, nil
	}
	return []byte(res.Raw), true, nil
}

// Del removes the value at path, returning whether anything was removed.
func (e *Engine) Del(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string) (bool, error) {
	doc, err := e.load(ctx, tx, db, name)
	if err == engine.ErrNoSuchKey {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	gpath, err := translatePath(path)
	if err != nil {
		return false, err
	}
	if gpath == "" {
		_, err := e.Strings.GetDel(ctx, tx, db, name)
		return err == nil, err
	}
	if !gjson.GetBytes(doc, gpath).Exists() {
		return false, nil
	}
	out, err := sjson.DeleteBytes(doc, gpath)
	if err != nil {
		return false, fmt.Errorf("%w: %v", engine.ErrSyntax, err)
	}
	if _, err := e.Strings.Set(ctx, tx, db, name, out, strengine.SetOpts{}); err != nil {
		return false, err
	}
	return true, nil
}

// Merge applies an RFC 7396 merge patch to the value at path (spec §4.D.7 "JSON.MERGE").
func (e *Engine) Merge(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string, patch []byte) error {
	gpath, err := translatePath(path)
	if err != nil {
		return err
	}

	var base []byte
	doc, err := e.load(ctx, tx, db, name)
	switch {
	case err == nil:
		base = doc
	case err == engine.ErrNoSuchKey:
		base = []byte("{}")
	default:
		return err
	}

	var target []byte
	if gpath == "" {
		target = base
	} else {
		res := gjson.GetBytes(base, gpath)
		if res.Exists() {
			target = []byte(res.Raw)
		} else {
			target = []byte("null")
		}
	}

	merged, err := jsonpatch.MergePatch(target, patch)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrSyntax, err)
	}

	var out []byte
	if gpath == "" {
		out = merged
	} else {
		out, err = sjson.SetRawBytes(base, gpath, merged)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrSyntax, err)
		}
	}
	_, err = e.Strings.Set(ctx, tx, db, name, out, strengine.SetOpts{})
	return err
}

// ArrAppend appends values to the array at path, returning its new length.
func (e *Engine) ArrAppend(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string, values [][]byte) (int64, error) {
	gpath, err := translatePath(path)
	if err != nil {
		return 0, err
	}

	doc, err := e.load(ctx, tx, db, name)
	if err != nil {
		return 0, err
	}

	target := doc
	if gpath != "" {
		res := gjson.GetBytes(doc, gpath)
		if !res.Exists() {
			return 0, engine.ErrNoSuchKey
		}
		target = []byte(res.Raw)
	}
	if !gjson.ParseBytes(target).IsArray() {
		return 0, engine.ErrWrongType
	}

	for _, v := range values {
		target, err = sjson.SetRawBytes(target, "-1", v)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", engine.ErrSyntax, err)
		}
	}

	var out []byte
	if gpath == "" {
		out = target
	} else {
		out, err = sjson.SetRawBytes(doc, gpath, target)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", engine.ErrSyntax, err)
		}
	}
	if _, err := e.Strings.Set(ctx, tx, db, name, out, strengine.SetOpts{}); err != nil {
		return 0, err
	}
	return gjson.ParseBytes(target).Get("#").Int(), nil
}

// ObjLen returns the number of keys in the object at path.
func (e *Engine) ObjLen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string) (int64, bool, error) {
	doc, err := e.load(ctx, tx, db, name)
	if err == engine.ErrNoSuchKey {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	gpath, err := translatePath(path)
	if err != nil {
		return 0, false, err
	}
	res := doc2result(doc, gpath)
	if !res.Exists() || !res.IsObject() {
		return 0, false, nil
	}
	var n int64
	res.ForEach(func(_, _ gjson.Result) bool { n++; return true })
	return n, true, nil
}

// ArrLen returns the length of the array at path.
func (e *Engine) ArrLen(ctx context.Context, tx storage.Tx, db engine.DBIndex, name []byte, path string) (int64, bool, error) {
	doc, err := e.load(ctx, tx, db, name)
	if err == engine.ErrNoSuchKey {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	gpath, err := translatePath(path)
	if err != nil {
		return 0, false, err
	}
	res := doc2result(doc, gpath)
	if !res.Exists() || !res.IsArray() {
		return 0, false, nil
	}
	return res.Get("#").Int(), true, nil
}

func doc2result(doc []byte, gpath string) gjson.Result {
	if gpath == "" {
		return gjson.ParseBytes(doc)
	}
	return gjson.GetBytes(doc, gpath)
}
