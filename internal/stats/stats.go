// Package stats publishes process-wide and per-component counters through
// the standard library's expvar registry, in the same shape the teacher's
// stats.go and server/vars package did: a handful of top-level named vars
// plus a NewStatistics(name, tags) helper that hands a component a private
// *kexpvar.Map to populate under "values".
package stats

import (
	"expvar"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/feederd/internal/kexpvar"
	"github.com/influxdata/feederd/internal/uuid"
)

const (
	ProcessIDVarName = "process_id"
	HostVarName      = "host"
	ProductVarName   = "product"
	VersionVarName   = "version"
	UptimeVarName    = "uptime"

	NumMessagesNewVarName       = "num_messages_new"
	NumMessagesSendWaitVarName  = "num_messages_send_wait"
	NumMessagesAckWaitVarName   = "num_messages_ack_wait"
	NumMessagesProcessedVarName = "num_messages_processed"
	NumMalformedVarName         = "num_malformed_datagrams"
	NumDiscardedVarName         = "num_discarded_no_memory"

	// Product is the name reported under ProductVarName.
	Product = "feederd"
)

var (
	ProcessIDVar = &kexpvar.UUID{}
	HostVar      = &kexpvar.String{}
	ProductVar   = &kexpvar.String{}
	VersionVar   = &kexpvar.String{}

	NumMessagesNewVar       = &kexpvar.Int{}
	NumMessagesSendWaitVar  = &kexpvar.Int{}
	NumMessagesAckWaitVar   = &kexpvar.Int{}
	NumMessagesProcessedVar = &kexpvar.Int{}
	NumMalformedVar         = &kexpvar.Int{}
	NumDiscardedVar         = &kexpvar.Int{}
)

var startTime time.Time

func init() {
	startTime = time.Now().UTC()
	ProcessIDVar.Set(uuid.New())
	ProductVar.Set(Product)

	expvar.Publish(ProcessIDVarName, ProcessIDVar)
	expvar.Publish(HostVarName, HostVar)
	expvar.Publish(ProductVarName, ProductVar)
	expvar.Publish(VersionVarName, VersionVar)

	expvar.Publish(NumMessagesNewVarName, NumMessagesNewVar)
	expvar.Publish(NumMessagesSendWaitVarName, NumMessagesSendWaitVar)
	expvar.Publish(NumMessagesAckWaitVarName, NumMessagesAckWaitVar)
	expvar.Publish(NumMessagesProcessedVarName, NumMessagesProcessedVar)
	expvar.Publish(NumMalformedVarName, NumMalformedVar)
	expvar.Publish(NumDiscardedVarName, NumDiscardedVar)
}

// Uptime reports how long this process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

var mu sync.Mutex

// NewStatistics publishes an expvar map under a random key, with "name" and
// "tags" sub-entries identifying the component, and returns the nested
// "values" map the caller should populate with its own counters.
func NewStatistics(name string, tags map[string]string) *kexpvar.Map {
	mu.Lock()
	defer mu.Unlock()

	key := uuid.New().String()

	m := &kexpvar.Map{}
	m.Init()
	expvar.Publish(key, m)

	nameVar := &kexpvar.String{}
	nameVar.Set(name)
	m.Set("name", nameVar)

	tagsVar := &kexpvar.Map{}
	tagsVar.Init()
	for k, v := range tags {
		value := &kexpvar.String{}
		value.Set(v)
		tagsVar.Set(k, value)
	}
	m.Set("tags", tagsVar)

	values := &kexpvar.Map{}
	values.Init()
	m.Set("values", values)

	return values
}

// Snapshot is a flattened, operator-facing view of one published component's
// stats, suitable for JSON encoding over the /debug/vars-style endpoint.
type Snapshot struct {
	Name   string
	Tags   map[string]string
	Values map[string]interface{}
}

// GetStatsData walks every published expvar and returns a Snapshot for the
// top-level process vars plus every component registered via NewStatistics.
func GetStatsData() []Snapshot {
	all := make([]Snapshot, 0)

	process := Snapshot{
		Name:   Product,
		Values: make(map[string]interface{}),
	}
	process.Values["uptime"] = Uptime().String()
	all = append(all, process)

	expvar.Do(func(kv expvar.KeyValue) {
		m, ok := kv.Value.(*kexpvar.Map)
		if !ok {
			return
		}
		snap := Snapshot{
			Tags:   make(map[string]string),
			Values: make(map[string]interface{}),
		}
		m.Do(func(sub expvar.KeyValue) {
			switch sub.Key {
			case "name":
				if sv, ok := sub.Value.(*kexpvar.String); ok {
					snap.Name = sv.StringValue()
				}
			case "tags":
				if tm, ok := sub.Value.(*kexpvar.Map); ok {
					tm.Do(func(t expvar.KeyValue) {
						if sv, ok := t.Value.(*kexpvar.String); ok {
							snap.Tags[t.Key] = sv.StringValue()
						}
					})
				}
			case "values":
				if vm, ok := sub.Value.(*kexpvar.Map); ok {
					vm.Do(func(v expvar.KeyValue) {
						switch vv := v.Value.(type) {
						case kexpvar.IntVar:
							snap.Values[v.Key] = vv.IntValue()
						case kexpvar.StringVar:
							snap.Values[v.Key] = vv.StringValue()
						default:
							if n, err := strconv.ParseFloat(v.Value.String(), 64); err == nil {
								snap.Values[v.Key] = n
							}
						}
					})
				}
			}
		})
		if snap.Name != "" {
			all = append(all, snap)
		}
	})

	return all
}
