package utils_test

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarDate_UsesBusinessTimezone(t *testing.T) {
	// 20:00 UTC is already the next day in Yangon (+06:30)
	instant := time.Date(2026, time.March, 10, 20, 0, 0, 0, time.UTC)

	day, err := utils.CalendarDate(instant, "Asia/Yangon")
	require.NoError(t, err)
	require.True(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC).Equal(day))

	day, err = utils.CalendarDate(instant, "UTC")
	require.NoError(t, err)
	require.True(t, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC).Equal(day))

	_, err = utils.CalendarDate(instant, "Mars/Olympus")
	require.Error(t, err)
}

func TestEndOfCalendarDay(t *testing.T) {
	day := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)

	end, err := utils.EndOfCalendarDay(day, "Asia/Yangon")
	require.NoError(t, err)
	require.True(t, time.Date(2026, time.March, 11, 17, 30, 0, 0, time.UTC).Equal(end), end.String())

	end, err = utils.EndOfCalendarDay(day, "UTC")
	require.NoError(t, err)
	require.True(t, time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC).Equal(end))
}

func TestParseCalendarDate(t *testing.T) {
	day, err := utils.ParseCalendarDate(" 2026-03-11 ")
	require.NoError(t, err)
	require.True(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC).Equal(day))

	_, err = utils.ParseCalendarDate("11/03/2026")
	require.Error(t, err)
}

func TestObtainKeyLock_SerializesSameKey(t *testing.T) {
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := utils.ObtainKeyLock(ctx, "stockLock:test", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestObtainKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	ctx := context.Background()
	releaseA, err := utils.ObtainKeyLock(ctx, "stockLock:a", time.Second)
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := utils.ObtainKeyLock(ctx, "stockLock:b", time.Second)
		if err == nil {
			releaseB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestTryKeyLock_DoesNotWaitForHeldKey(t *testing.T) {
	ctx := context.Background()
	release, err := utils.ObtainKeyLock(ctx, "valuationLock:held", time.Second)
	require.NoError(t, err)

	done := make(chan bool)
	go func() {
		_, ok, err := utils.TryKeyLock(ctx, "valuationLock:held", time.Second)
		assert.NoError(t, err)
		done <- ok
	}()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TryKeyLock waited on a held key")
	}

	release()
	tryRelease, ok, err := utils.TryKeyLock(ctx, "valuationLock:held", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// a held try-lock blocks the next try too
	_, ok, err = utils.TryKeyLock(ctx, "valuationLock:held", time.Second)
	require.NoError(t, err)
	require.False(t, ok)
	tryRelease()
}

func TestUniqueSlice(t *testing.T) {
	require.Equal(t, []int{3, 1, 2}, utils.UniqueSlice([]int{3, 1, 3, 2, 1}))
}
