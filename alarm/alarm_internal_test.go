//go:build linux

package alarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisarmClearsTimer(t *testing.T) {
	f, err := Arm(context.Background(), time.Second*3)
	require.Nil(t, err)

	left, err := remaining()
	require.Nil(t, err)
	assert.Greater(t, left, time.Second*2)

	require.Nil(t, f.Disarm())

	left, err = remaining()
	require.Nil(t, err)
	assert.Equal(t, time.Duration(0), left)
}

func TestDisarmRestoresForeignTimer(t *testing.T) {
	global.start.Do(global.listen)
	require.Nil(t, setTimer(time.Second*10))
	defer setTimer(0)

	f, err := Arm(context.Background(), time.Millisecond*500)
	require.Nil(t, err)

	left, err := remaining()
	require.Nil(t, err)
	assert.LessOrEqual(t, left, time.Millisecond*500)

	require.Nil(t, f.Disarm())

	left, err = remaining()
	require.Nil(t, err)
	assert.Greater(t, left, time.Second*9)
	assert.LessOrEqual(t, left, time.Second*10)
}

func TestNestedFrameReprogramsOuterDeadline(t *testing.T) {
	outer, err := Arm(context.Background(), time.Second*4)
	require.Nil(t, err)
	defer outer.Disarm()

	ctx := context.WithValue(context.Background(), frameKey{}, outer)
	inner, err := Arm(ctx, time.Second)
	require.Nil(t, err)

	left, err := remaining()
	require.Nil(t, err)
	assert.LessOrEqual(t, left, time.Second)

	require.Nil(t, inner.Disarm())

	left, err = remaining()
	require.Nil(t, err)
	assert.Greater(t, left, time.Second*3)
}

func TestDisarmOuterExpiresOrphans(t *testing.T) {
	outer, err := Arm(context.Background(), time.Second*4)
	require.Nil(t, err)

	ctx := context.WithValue(context.Background(), frameKey{}, outer)
	inner, err := Arm(ctx, time.Second*4)
	require.Nil(t, err)

	require.Nil(t, outer.Disarm())

	select {
	case <-inner.Expired():
	default:
		t.Fatal("orphaned frame was not expired")
	}
	assert.Nil(t, inner.Disarm())
	assert.Len(t, global.frames, 0)
}

func TestEarlySignalIsIgnored(t *testing.T) {
	f, err := Arm(context.Background(), time.Second*3)
	require.Nil(t, err)
	defer f.Disarm()

	global.fire(time.Now())

	select {
	case <-f.Expired():
		t.Fatal("frame expired before its deadline")
	default:
	}

	left, err := remaining()
	require.Nil(t, err)
	assert.Greater(t, left, time.Second)
}

var errBroken = errors.New("setitimer broken")

// breakTimerOnce makes the next timer update fail with errBroken.
func breakTimerOnce(t *testing.T) {
	t.Helper()
	global.mu.Lock()
	defer global.mu.Unlock()

	prev, broken := armTimer, false
	armTimer = func(d time.Duration) error {
		if !broken {
			broken = true
			return errBroken
		}
		return prev(d)
	}
	t.Cleanup(func() {
		global.mu.Lock()
		defer global.mu.Unlock()
		armTimer = prev
	})
}

func TestFireReleasesFramesWhenTimerFails(t *testing.T) {
	f, err := Arm(context.Background(), time.Second*3)
	require.Nil(t, err)

	breakTimerOnce(t)
	global.fire(time.Now())

	select {
	case <-f.Expired():
	default:
		t.Fatal("frame left pending after the timer failed")
	}
	assert.ErrorIs(t, f.Err(), errBroken)

	require.Nil(t, f.Disarm())
	left, err := remaining()
	require.Nil(t, err)
	assert.Equal(t, time.Duration(0), left)
}

func TestRunReturnsTimerFailure(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), time.Second*3, func(ctx context.Context) (any, error) {
		breakTimerOnce(t)
		global.fire(time.Now())
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.ErrorIs(t, err, errBroken)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, global.frames, 0)
}

func TestExpiredFrameHasNoError(t *testing.T) {
	f, err := Arm(context.Background(), time.Millisecond*50)
	require.Nil(t, err)
	defer f.Disarm()

	assert.Nil(t, f.Err())
	<-f.Expired()
	assert.Nil(t, f.Err())
}
