// Package benchmark drives a running accord.StateDriver with a synthetic
// YCSB-style workload, the way the teacher's YCSBStmt/YCSBClient pair in
// benchmark/ycsb.go spins up client goroutines against a zipfian key
// distribution and tallies a Stat.
package benchmark

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/pingcap/go-ycsb/pkg/generator"

	"accord"
	"accord/store"
)

// Workload drives repeated KVCommand submissions at a single node's driver.
// ReadPercentage is the fraction of submissions that are reads; NumKeys and
// Skew parametrize the same generator.Zipfian the teacher's YCSBClient uses.
type Workload struct {
	NumKeys        int
	Skew           float64
	ReadPercentage float64
	Clients        int

	Driver *accord.StateDriver[string]

	submitted int64
	committed int64
}

// Run launches Clients goroutines, each its own *rand.Rand and Zipfian
// generator (no shared mutable state across clients, same as the teacher's
// per-goroutine client.r/client.zip), until stop is closed.
func (w *Workload) Run(stop <-chan struct{}) {
	for i := 0; i < w.Clients; i++ {
		go w.clientLoop(i, stop)
	}
}

func (w *Workload) clientLoop(seed int, stop <-chan struct{}) {
	r := rand.New(rand.NewSource(int64(seed)*11 + 31))
	zip := generator.NewZipfianWithRange(0, int64(w.NumKeys-1), w.Skew)

	// touched is this client's running distinct-key footprint. It lives only
	// inside this loop; Workload does not expose or report it.
	touched := mapset.NewSet()

	for {
		select {
		case <-stop:
			return
		default:
		}
		key := fmt.Sprintf("key%d", zip.Next(r))
		touched.Add(key)
		isRead := r.Float64() < w.ReadPercentage
		var cmd store.KVCommand
		if isRead {
			cmd = store.KVCommand{Op: store.OpRead, Key: key}
			w.Driver.Submit(accord.BeginRead[string]{Keys: accord.NewKeySet(key), Command: cmd})
		} else {
			value := randSeq(r, 8)
			cmd = store.KVCommand{Op: store.OpWrite, Key: key, Value: value}
			w.Driver.Submit(accord.BeginWrite[string]{Keys: accord.NewKeySet(key), Command: cmd})
		}
		atomic.AddInt64(&w.submitted, 1)
		time.Sleep(time.Millisecond)
	}
}

func (w *Workload) Submitted() int64 { return atomic.LoadInt64(&w.submitted) }

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(r *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}
