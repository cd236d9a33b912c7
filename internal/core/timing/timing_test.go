package timing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockMonotonic(t *testing.T) {
	c, err := NewClock()
	require.NoError(t, err)

	a := c.Now()
	time.Sleep(2 * time.Millisecond)
	b := c.Now()
	assert.Greater(t, b, a)
	assert.GreaterOrEqual(t, b-a, uint64(2*time.Millisecond))

	wallDelta := c.WallTime(b).Sub(c.WallTime(a))
	assert.Equal(t, time.Duration(b-a), wallDelta)
}

func TestClockConversions(t *testing.T) {
	c, err := NewClock()
	require.NoError(t, err)

	ns := c.Now()
	us := c.NowMicros()
	ms := c.NowMillis()
	assert.GreaterOrEqual(t, us, ns/1_000)
	assert.GreaterOrEqual(t, ms, ns/1_000_000)
}

func TestRecorderMinMaxAvg(t *testing.T) {
	r := NewRecorder()
	r.Record(StageMatch, 100, 150)
	r.Record(StageMatch, 200, 220)
	r.Record(StageMatch, 300, 400)
	r.Record(StageMatch, 500, 400) // inverted, discarded

	snap := r.Snapshot()
	st := snap[StageMatch]
	assert.Equal(t, uint64(3), st.Count)
	assert.Equal(t, uint64(170), st.TotalNs)
	assert.Equal(t, uint64(20), st.MinNs)
	assert.Equal(t, uint64(100), st.MaxNs)
	assert.Equal(t, uint64(56), st.AvgNs)

	empty := snap[StageFanout]
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.MinNs)
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(0); i < 10_000; i++ {
				r.Record(StageRisk, 0, 10)
			}
		}()
	}
	wg.Wait()

	st := r.Snapshot()[StageRisk]
	assert.Equal(t, uint64(80_000), st.Count)
	assert.Equal(t, uint64(800_000), st.TotalNs)
	assert.Equal(t, uint64(10), st.MinNs)
	assert.Equal(t, uint64(10), st.MaxNs)
}
