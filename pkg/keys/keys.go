// Lookup results are cached under keys of the form `prefix:part1:part2:...:name1=value1`.
// This module builds those keys deterministically: two call sites that describe the same lookup
// always land on the same key, regardless of named-argument or map-key ordering.
// The key format is an internal contract, not a wire protocol, but it must stay stable
// because keys are logged for debugging and correlation.

package keys

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// delimiter joins normalized key parts. Keys never embed raw user text, so a colon inside an
// argument survives only in normalized form and cannot collide with the separator semantics
// relied upon for pattern-based invalidation (e.g. `spec:*`).
const delimiter = ":"

// Build constructs a cache key from a prefix and positional arguments.
// Primitive arguments (strings, numbers, booleans) are stringified directly; everything else is
// reduced to a fixed-length content digest. Build never fails; any value produces some key.
func Build(prefix string, parts ...any) string {
	return BuildNamed(prefix, parts, nil)
}

// BuildNamed constructs a cache key from a prefix, positional arguments and named arguments.
// Named arguments are appended as `name=value` segments sorted lexicographically by name,
// so the argument order at the call site never changes the key.
func BuildNamed(prefix string, positional []any, named map[string]any) string {
	segments := make([]string, 0, 1+len(positional)+len(named))
	segments = append(segments, normalize(prefix))
	for _, part := range positional {
		segments = append(segments, normalize(stringify(part)))
	}

	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		segments = append(segments, normalize(name+"="+stringify(named[name])))
	}

	return strings.Join(segments, delimiter)
}

// normalize canonicalizes one key segment: lowercase, trimmed, spaces turned into underscores.
func normalize(segment string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(segment)), " ", "_")
}

// stringify renders primitive values directly and digests everything else.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return digest(value)
	}
}

// digest reduces a non-primitive value to a 16-hex-character content hash. Serialization goes
// through JSON because it is canonical for maps (keys are emitted sorted), which keeps the digest
// independent of map iteration order. Collision resistance here is a caching-correctness property,
// not a security one, so a 64-bit hash is enough.
func digest(value any) string {
	serialized, err := json.Marshal(value)
	if err != nil {
		// Values that JSON cannot express (channels, funcs) still need to produce a key.
		// The %#v form is stable enough for that fallback.
		serialized = fmt.Appendf(nil, "%#v", value)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(serialized))
}
