package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

func note(method string, phase report.Phase) report.Notification {
	return report.Notification{Test: suite.TestID{Suite: "Calc", Method: method}, Phase: phase}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	var r report.Reporter = h
	r.Notify(note("testAdd", report.PhaseStarted))

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, "Calc#testAdd", ev.Notification.Test.String())
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	h.Publish(note("testAdd", report.PhaseStarted))
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		h.Publish(note(m, report.PhaseFinished))
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Notification.Test.Method)
	assert.Equal(t, "e", all[2].Notification.Test.Method)

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestPublishKeepsNotificationTime(t *testing.T) {
	h := NewHub(1)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := note("testAdd", report.PhaseStarted)
	n.At = at
	h.Publish(n)
	assert.Equal(t, at, h.SnapshotSince(0)[0].At)
}
