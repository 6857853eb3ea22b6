package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"proc"
)

func resetQueues() {
	readyMu.Lock()
	ready = nil
	readyMu.Unlock()
	hangMu.Lock()
	hang = nil
	hangMu.Unlock()
	blockedMu.Lock()
	blocked = make(map[*proc.Task_t]bool)
	blockedMu.Unlock()
}

func TestEnqueuePickFIFO(t *testing.T) {
	resetQueues()
	a := &proc.Task_t{Tid: 1}
	b := &proc.Task_t{Tid: 2}
	Enqueue(a)
	Enqueue(b)

	assert.Equal(t, 2, ReadyLen())
	first := Pick()
	assert.Same(t, a, first)
	assert.Equal(t, proc.Running, first.State())
	second := Pick()
	assert.Same(t, b, second)
}

func TestTryPickOnEmptyQueue(t *testing.T) {
	resetQueues()
	_, ok := TryPick()
	assert.False(t, ok)
}

func TestParkUntilWakesOnTick(t *testing.T) {
	resetQueues()
	task := &proc.Task_t{Tid: 3}
	deadline := time.Now().Add(10 * time.Millisecond)
	ParkUntil(task, deadline)
	assert.Equal(t, proc.Hanging, task.State())

	Tick(deadline.Add(time.Millisecond))
	assert.Equal(t, 1, ReadyLen())
	assert.Same(t, task, Pick())
}

func TestFutexWakeReleasesWaiter(t *testing.T) {
	resetQueues()
	task := &proc.Task_t{Tid: 4}
	const key = uintptr(0x1000)

	doneWaiting := make(chan bool)
	go func() {
		doneWaiting <- FutexWait(task, key, time.Time{})
	}()
	time.Sleep(5 * time.Millisecond) // let the waiter register

	woke := FutexWake(key, 1)
	assert.Equal(t, 1, woke)
	assert.True(t, <-doneWaiting)
}

func TestFutexWaitTimesOut(t *testing.T) {
	resetQueues()
	task := &proc.Task_t{Tid: 5}
	const key = uintptr(0x2000)

	ok := FutexWait(task, key, time.Now().Add(5*time.Millisecond))
	assert.False(t, ok)
}

func TestStatsCountsEnqueueAndPick(t *testing.T) {
	resetQueues()
	before := kstats.Enqueues.Get()
	Enqueue(&proc.Task_t{Tid: 6})
	Pick()
	assert.Equal(t, before+1, kstats.Enqueues.Get())
	assert.Contains(t, Stats(), "Picks")
}
