package framelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWait_FirstCallDoesNotBlock(t *testing.T) {
	l := New(1) // 1 fps, i.e. a full second between calls
	start := time.Now()
	l.Wait()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_SecondCallSleepsResidual(t *testing.T) {
	l := New(20) // 50ms period
	l.Wait()
	time.Sleep(10 * time.Millisecond)
	start := time.Now()
	l.Wait()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 90*time.Millisecond)
}

func TestWait_ZeroRateNeverBlocks(t *testing.T) {
	l := New(0)
	start := time.Now()
	l.Wait()
	l.Wait()
	l.Wait()
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
