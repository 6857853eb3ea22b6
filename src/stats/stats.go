// Package stats holds lightweight kernel counters: atomic tallies and
// elapsed-time accumulators that sched bumps on every scheduling
// decision. There is no portable
// equivalent of the teacher's cycle-counter (runtime.Rdtsc is a
// patched-runtime-only primitive with no stock-Go or RISC-V rdtime
// stand-in), so accumulators measure wall-clock time.Duration instead
// of cycles.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

/// Counter_t is a statistical counter.
type Counter_t int64

/// Nsec_t holds accumulated elapsed nanoseconds.
type Nsec_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

/// Get returns the current counter value.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

/// Add adds the elapsed time since start to the accumulator.
func (n *Nsec_t) Add(start time.Time) {
	atomic.AddInt64((*int64)(n), int64(time.Since(start)))
}

/// Get returns the accumulated duration.
func (n *Nsec_t) Get() time.Duration {
	return time.Duration(atomic.LoadInt64((*int64)(n)))
}

/// Stats2String converts a struct of counters/accumulators to a
/// printable string, for the same kind of periodic debug dump the
/// teacher's ahci/ixgbe Stats() methods produce.
func Stats2String(st interface{}) string {
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		name := v.Type().Field(i).Name
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Nsec_t") {
			n := v.Field(i).Interface().(Nsec_t)
			s += "\n\t#" + name + ": " + time.Duration(n).String()
		}
	}
	return s + "\n"
}
