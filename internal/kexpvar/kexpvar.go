// Package kexpvar publishes the handful of expvar-compatible variable
// kinds feederd's stats package actually needs: counters mutated directly
// (Int), counters that mirror another component's live state instead of
// holding their own (IntFuncGauge), a delete-capable map (Map, which the
// standard library's expvar.Map omits), and small labeled scalars (String,
// UUID). Adapted from the teacher's top-level expvar fork, trimmed to this
// set — the teacher's float and multi-part-sum variable kinds have no
// counter in feederd's data model to back them.
package kexpvar

import (
	"bytes"
	"expvar"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/influxdata/feederd/internal/uuid"
)

type IntVar interface {
	expvar.Var
	IntValue() int64
}

type StringVar interface {
	expvar.Var
	StringValue() string
}

// Int is a 64-bit integer variable that satisfies the expvar.Var interface.
type Int struct {
	i int64
}

func (v *Int) String() string {
	return strconv.FormatInt(v.IntValue(), 10)
}

func (v *Int) Add(delta int64) {
	atomic.AddInt64(&v.i, delta)
}

func (v *Int) Set(value int64) {
	atomic.StoreInt64(&v.i, value)
}

func (v *Int) IntValue() int64 {
	return atomic.LoadInt64(&v.i)
}

// IntFuncGauge polls a live counter owned by some other component — a
// pool's used-byte count, a tracker's outstanding-message count, a writer's
// cumulative send count — on every expvar read, rather than holding a value
// of its own. Add and Set are no-ops: the gauge has no state for them to
// mutate, since the polled component is the only source of truth.
type IntFuncGauge struct {
	poll func() int64
}

// NewIntFuncGauge returns a gauge that reports poll() on every read. poll
// must be safe to call concurrently with whatever goroutine owns the value
// it reports, since expvar reads happen on arbitrary goroutines (an HTTP
// handler, a test, a periodic snapshot).
func NewIntFuncGauge(poll func() int64) *IntFuncGauge {
	return &IntFuncGauge{poll: poll}
}

func (v *IntFuncGauge) String() string {
	return strconv.FormatInt(v.IntValue(), 10)
}

func (v *IntFuncGauge) Add(delta int64) {}
func (v *IntFuncGauge) Set(value int64) {}

func (v *IntFuncGauge) IntValue() int64 {
	if v == nil || v.poll == nil {
		return 0
	}
	return v.poll()
}

// Map is a string-to-expvar.Var map variable that satisfies the
// expvar.Var interface, with Delete support the standard library omits.
type Map struct {
	mu sync.RWMutex
	m  map[string]expvar.Var
}

func (v *Map) String() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var b bytes.Buffer
	fmt.Fprintf(&b, "{")
	first := true
	v.doLocked(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(&b, ", ")
		}
		fmt.Fprintf(&b, "%q: %v", kv.Key, kv.Value)
		first = false
	})
	fmt.Fprintf(&b, "}")
	return b.String()
}

func (v *Map) Init() *Map {
	v.m = make(map[string]expvar.Var)
	return v
}

func (v *Map) Get(key string) expvar.Var {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.m[key]
}

func (v *Map) Set(key string, av expvar.Var) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = av
}

func (v *Map) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

func (v *Map) Add(key string, delta int64) {
	v.mu.RLock()
	av, ok := v.m[key]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		av, ok = v.m[key]
		if !ok {
			av = new(Int)
			v.m[key] = av
		}
		v.mu.Unlock()
	}
	if iv, ok := av.(*Int); ok {
		iv.Add(delta)
	}
}

// Do calls f for each entry in the map. The map is locked during the
// iteration, but existing entries may be concurrently updated.
func (v *Map) Do(f func(expvar.KeyValue)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.doLocked(f)
}

// DoSorted calls f for each entry in the map in sorted key order.
func (v *Map) DoSorted(f func(expvar.KeyValue)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, len(v.m))
	i := 0
	for key := range v.m {
		keys[i] = key
		i++
	}
	sort.Strings(keys)
	for _, k := range keys {
		f(expvar.KeyValue{Key: k, Value: v.m[k]})
	}
}

func (v *Map) doLocked(f func(expvar.KeyValue)) {
	for k, val := range v.m {
		f(expvar.KeyValue{Key: k, Value: val})
	}
}

// String is a string variable, and satisfies the expvar.Var interface.
type String struct {
	mu sync.RWMutex
	s  string
}

func (v *String) String() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return strconv.Quote(v.s)
}

func (v *String) Set(value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.s = value
}

func (v *String) StringValue() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s
}

// UUID is a string variable holding a uuid.UUID, satisfying expvar.Var.
// Used to publish the process ID var in the stats package.
type UUID struct {
	mu sync.RWMutex
	id uuid.UUID
	s  string
}

func (v *UUID) String() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return strconv.Quote(v.s)
}

func (v *UUID) Set(value uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.id = value
	v.s = value.String()
}

func (v *UUID) StringValue() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s
}

func (v *UUID) UUIDValue() uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.id
}
