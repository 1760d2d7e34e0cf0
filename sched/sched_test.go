package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/named-data/appface/sched"
)

func TestFiringOrder(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	var order []int
	s.Schedule(20*time.Millisecond, func() { order = append(order, 2) })
	s.Schedule(10*time.Millisecond, func() { order = append(order, 1) })
	s.Schedule(30*time.Millisecond, func() { order = append(order, 3) })

	fired := s.Advance(clock.Advance(time.Second))
	require.Equal(t, 3, fired)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestCoincidentDeadlinesFireInScheduleOrder(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	var order []int
	for i := 0; i < 8; i++ {
		i := i
		s.Schedule(10*time.Millisecond, func() { order = append(order, i) })
	}

	s.Advance(clock.Advance(10 * time.Millisecond))
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestPartialAdvance(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	fired := 0
	s.Schedule(10*time.Millisecond, func() { fired++ })
	s.Schedule(50*time.Millisecond, func() { fired++ })

	s.Advance(clock.Advance(20 * time.Millisecond))
	require.Equal(t, 1, fired)
	require.Equal(t, 1, s.Len())

	deadline, ok := s.NextDeadline()
	require.True(t, ok)
	require.Equal(t, 30*time.Millisecond, deadline.Sub(clock.Now()))
}

func TestCancelIsIdempotent(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	id := s.Schedule(10*time.Millisecond, func() {
		require.FailNow(t, "cancelled event must not fire")
	})
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel(sched.EventId(9999))

	s.Advance(clock.Advance(time.Second))
	require.Equal(t, 0, s.Len())
}

func TestRescheduleFromCallback(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	fired := 0
	s.Schedule(10*time.Millisecond, func() {
		fired++
		s.Schedule(10*time.Millisecond, func() { fired++ })
	})

	// The re-scheduled event is relative to the clock, not the batch:
	// one Advance fires only the first.
	s.Advance(clock.Advance(10 * time.Millisecond))
	require.Equal(t, 1, fired)
	s.Advance(clock.Advance(10 * time.Millisecond))
	require.Equal(t, 2, fired)
}

func TestCancelFromCallback(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.New(clock)

	var victim sched.EventId
	s.Schedule(10*time.Millisecond, func() { s.Cancel(victim) })
	victim = s.Schedule(10*time.Millisecond, func() {
		require.FailNow(t, "cancelled event must not fire")
	})

	s.Advance(clock.Advance(10 * time.Millisecond))
	require.Equal(t, 0, s.Len())
}

func TestNextDeadlineEmpty(t *testing.T) {
	s := sched.New(sched.NewManualClock())
	_, ok := s.NextDeadline()
	require.False(t, ok)
}
