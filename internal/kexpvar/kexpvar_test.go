package kexpvar

import (
	"expvar"
	"testing"

	"github.com/influxdata/feederd/internal/uuid"
)

func TestIntAddAndSet(t *testing.T) {
	var i Int
	i.Add(5)
	i.Add(3)
	if got := i.IntValue(); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	i.Set(100)
	if got := i.IntValue(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestMapSetGetDelete(t *testing.T) {
	m := (&Map{}).Init()
	m.Set("a", &Int{})
	if m.Get("a") == nil {
		t.Fatal("expected key a to be present")
	}
	m.Delete("a")
	if m.Get("a") != nil {
		t.Fatal("expected key a to be removed")
	}
}

func TestMapAddCreatesEntry(t *testing.T) {
	m := (&Map{}).Init()
	m.Add("count", 1)
	m.Add("count", 2)
	v, ok := m.Get("count").(*Int)
	if !ok {
		t.Fatalf("expected *Int entry, got %T", m.Get("count"))
	}
	if v.IntValue() != 3 {
		t.Fatalf("expected 3, got %d", v.IntValue())
	}
}

func TestUUIDVar(t *testing.T) {
	var v UUID
	id := uuid.New()
	v.Set(id)
	if v.UUIDValue() != id {
		t.Fatalf("expected %v, got %v", id, v.UUIDValue())
	}
	if v.StringValue() != id.String() {
		t.Fatalf("expected %s, got %s", id.String(), v.StringValue())
	}
}

// fakeUsage stands in for the kind of live component IntFuncGauge is meant
// to poll — a pool tracking used bytes, a tracker tracking outstanding
// messages — without pulling those packages into this test.
type fakeUsage struct {
	used int64
}

func (f *fakeUsage) Used() int64 { return f.used }

func TestIntFuncGaugePollsLiveState(t *testing.T) {
	usage := &fakeUsage{used: 10}
	g := NewIntFuncGauge(usage.Used)

	if got := g.IntValue(); got != 10 {
		t.Fatalf("expected gauge to report 10, got %d", got)
	}

	usage.used = 40
	if got := g.IntValue(); got != 40 {
		t.Fatalf("expected gauge to reflect the live value 40, got %d", got)
	}

	// Add and Set are no-ops: the gauge has no state of its own to mutate.
	g.Add(5)
	g.Set(0)
	if got := g.IntValue(); got != 40 {
		t.Fatalf("expected gauge to still report the polled value 40, got %d", got)
	}
}

func TestIntFuncGaugeNilSafe(t *testing.T) {
	var g *IntFuncGauge
	if got := g.IntValue(); got != 0 {
		t.Fatalf("expected nil gauge to report 0, got %d", got)
	}
}

var _ expvar.Var = (*Int)(nil)
var _ expvar.Var = (*Map)(nil)
var _ expvar.Var = (*String)(nil)
var _ expvar.Var = (*UUID)(nil)
var _ expvar.Var = (*IntFuncGauge)(nil)
