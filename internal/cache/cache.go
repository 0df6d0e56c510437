// Package cache implements the relay's advisory KV cache (§3/§4.B):
// cached nodeinfo/actor documents and a request namespace for other
// discovery GETs (webfinger), behind one interface with two backends (database,
// redis), mirroring how internal/store offers one interface over two
// SQL dialects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrMiss is returned by Get when no unexpired value exists for key.
var ErrMiss = errors.New("cache: miss")

// Namespace groups cached values so TTL and eviction can differ per
// kind of data (§4.B).
type Namespace string

const (
	NamespaceNodeinfo Namespace = "nodeinfo"
	NamespaceActor    Namespace = "actor"
	NamespaceRequest  Namespace = "request"
)

// ttlFor returns the retention window for namespace, per §4.B's
// explicit table (nodeinfo 1h, actor 6h, request 48h). Unlisted
// namespaces default to the request TTL, the longest of the three,
// so every entry still expires rather than being kept forever.
func ttlFor(ns Namespace) time.Duration {
	switch ns {
	case NamespaceNodeinfo:
		return time.Hour
	case NamespaceActor:
		return 6 * time.Hour
	case NamespaceRequest:
		return 48 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// valueType tags how Value's Raw string should be interpreted, the
// same str|int|bool|json vocabulary store.ConfigEntry and
// store.CacheRow use.
type valueType string

const (
	typeStr  valueType = "str"
	typeInt  valueType = "int"
	typeBool valueType = "bool"
	typeJSON valueType = "json"
)

// Value is one cached entry. Exactly one of the typed accessors below
// is meaningful, selected by which constructor (StringValue, IntValue,
// BoolValue, JSONValue) built it; the accessors do not check the tag.
type Value struct {
	Raw string
	typ valueType
}

func StringValue(s string) Value { return Value{Raw: s, typ: typeStr} }
func IntValue(n int64) Value     { return Value{Raw: strconv.FormatInt(n, 10), typ: typeInt} }
func BoolValue(b bool) Value {
	if b {
		return Value{Raw: "true", typ: typeBool}
	}
	return Value{Raw: "false", typ: typeBool}
}

// JSONValue marshals v and tags the result as JSON. It panics on a
// marshal error since callers always pass static, known-good types.
func JSONValue(v any) Value {
	b, err := json.Marshal(v)
	if err != nil {
		panic("cache: JSONValue: " + err.Error())
	}
	return Value{Raw: string(b), typ: typeJSON}
}

func (v Value) String() string { return v.Raw }

func (v Value) Bool() bool { return v.Raw == "true" }

// Int parses an int-tagged value, returning 0 on a malformed value.
func (v Value) Int() int64 {
	n, _ := strconv.ParseInt(v.Raw, 10, 64)
	return n
}

// Unmarshal decodes a JSON-tagged value into dst.
func (v Value) Unmarshal(dst any) error {
	return json.Unmarshal([]byte(v.Raw), dst)
}

// Cache is the KV surface internal/apclient depends on for
// nodeinfo/actor/webfinger memoization.
// Implementations: dbCache, redisCache.
type Cache interface {
	Get(ctx context.Context, ns Namespace, key string) (Value, error)
	Put(ctx context.Context, ns Namespace, key string, val Value) error
	Delete(ctx context.Context, ns Namespace, key string) error
	// DeleteNamespace drops every entry in ns — used when an admin
	// action (e.g. a software ban) invalidates a whole namespace's
	// worth of memoized lookups at once.
	DeleteNamespace(ctx context.Context, ns Namespace) error
	// Clear drops every cached entry across every namespace.
	Clear(ctx context.Context) error
	// Sweep evicts everything older than its namespace TTL and reports
	// how many entries were removed. A no-op for backends (redis) that
	// expire entries natively.
	Sweep(ctx context.Context) (int, error)
	Close() error
}
