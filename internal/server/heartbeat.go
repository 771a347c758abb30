// Package server drives per-connection liveness detection: each connection is
// probed on a fixed interval and evicted when it stops acknowledging probes.
package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// heartbeatState is the per-connection liveness state.
type heartbeatState int32

const (
	stateAlive heartbeatState = iota
	stateProbing
	stateDead
)

// heartbeat runs the ALIVE -> PROBING -> (ALIVE | DEAD) state machine for a
// single connection. Every interval it invokes probe and waits up to timeout
// for a matching ack; a missing ack transitions to DEAD and invokes expire
// exactly once. The probe and expire callbacks decouple the machine from any
// real transport, so detection latency is bounded by interval + timeout
// regardless of how the network misbehaves.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	probe    func() error
	expire   func()

	acks     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	state    atomic.Int32
}

func newHeartbeat(interval, timeout time.Duration, probe func() error, expire func()) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		expire:   expire,
		acks:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
}

// run executes probe cycles until the connection dies or stop is called.
// It is meant to be started in its own goroutine.
func (hb *heartbeat) run() {
	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.quit:
			return
		case <-ticker.C:
			if !hb.probeOnce() {
				return
			}
		}
	}
}

// probeOnce performs a single probe cycle and reports whether the connection
// is still alive.
func (hb *heartbeat) probeOnce() bool {
	// An ack received while ALIVE answers no outstanding probe; discard it so
	// it cannot satisfy this cycle.
	select {
	case <-hb.acks:
	default:
	}

	hb.state.Store(int32(stateProbing))
	if err := hb.probe(); err != nil {
		hb.die()
		return false
	}

	wait := time.NewTimer(hb.timeout)
	defer wait.Stop()

	select {
	case <-hb.acks:
		hb.state.Store(int32(stateAlive))
		return true
	case <-hb.quit:
		return false
	case <-wait.C:
		hb.die()
		return false
	}
}

func (hb *heartbeat) die() {
	hb.state.Store(int32(stateDead))
	hb.expire()
}

// ack records a liveness acknowledgment, cancelling the bounded wait of the
// current probe cycle. Never blocks.
func (hb *heartbeat) ack() {
	select {
	case hb.acks <- struct{}{}:
	default:
	}
}

// stop cancels probing without marking the connection dead. Safe to call
// multiple times and from any goroutine.
func (hb *heartbeat) stop() {
	hb.quitOnce.Do(func() {
		close(hb.quit)
	})
}

func (hb *heartbeat) status() heartbeatState {
	return heartbeatState(hb.state.Load())
}
