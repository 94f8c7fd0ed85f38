package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
)

func newTestHub(t *testing.T) (*CaptureHub, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	hub := NewCaptureHub(src, nil, zap.NewNop().Sugar())
	t.Cleanup(hub.Close)
	return hub, src
}

func waitReady(t *testing.T, feed *SourceFeed) {
	t.Helper()
	select {
	case <-feed.Ready():
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}
}

func TestCaptureHubPublishesIncreasingSeq(t *testing.T) {
	hub, _ := newTestHub(t)
	feed := hub.Acquire(testSource("src1"), 50)
	defer feed.Release()

	waitReady(t, feed)
	first, err := feed.Latest()
	require.NoError(t, err)
	require.NotNil(t, first)

	waitReady(t, feed)
	second, err := feed.Latest()
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, domain.SourceID("src1"), second.SourceID)
}

func TestCaptureHubRefcount(t *testing.T) {
	hub, src := newTestHub(t)

	a := hub.Acquire(testSource("src1"), 30)
	b := hub.Acquire(testSource("src1"), 30)
	assert.Equal(t, 2, hub.Refs("src1"))

	a.Release()
	a.Release()
	assert.Equal(t, 1, hub.Refs("src1"))

	b.Release()
	assert.Equal(t, 0, hub.Refs("src1"))

	// the loop is cancelled; at most one in-flight capture may still land
	time.Sleep(50 * time.Millisecond)
	n := src.captures("src1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, src.captures("src1"))
}

func TestCaptureHubLateFeedSeesCurrentFrame(t *testing.T) {
	hub, _ := newTestHub(t)
	a := hub.Acquire(testSource("src1"), 10)
	defer a.Release()
	waitReady(t, a)

	b := hub.Acquire(testSource("src1"), 10)
	defer b.Release()

	select {
	case <-b.Ready():
	default:
		t.Fatal("late feed should be signalled immediately")
	}
	frame, err := b.Latest()
	require.NoError(t, err)
	assert.NotNil(t, frame)
}

func TestCaptureHubRunsAtFastestFeed(t *testing.T) {
	hub, src := newTestHub(t)
	slow := hub.Acquire(testSource("src1"), 5)
	defer slow.Release()
	fast := hub.Acquire(testSource("src1"), 50)
	defer fast.Release()

	time.Sleep(300 * time.Millisecond)
	// 50fps for 300ms is about 15 captures; 5fps would be 2
	assert.Greater(t, src.captures("src1"), 8)
}

func TestCaptureHubRefreshHintCapsRate(t *testing.T) {
	hub, src := newTestHub(t)
	desc := testSource("src1")
	desc.RefreshHint = 10
	feed := hub.Acquire(desc, 100)
	defer feed.Release()

	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, src.captures("src1"), 5)
}

func TestCaptureHubSourceUnavailable(t *testing.T) {
	hub, src := newTestHub(t)
	src.remove("src1")

	feed := hub.Acquire(testSource("src1"), 30)
	defer feed.Release()
	waitReady(t, feed)

	_, err := feed.Latest()
	assert.Equal(t, domain.KindSourceUnavailable, domain.KindOf(err))
	assert.Equal(t, 1, src.captures("src1"), "loop stops after the source disappears")
}
