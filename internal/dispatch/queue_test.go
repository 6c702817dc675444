package dispatch

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestQueue_RunsInPostingOrder(t *testing.T) {
	q := New("test-queue", quietLogger())
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Post(func() { got = append(got, i) }))
	}
	q.Flush()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v, "functions MUST run in posting order")
	}
}

func TestQueue_NeverRunsConcurrently(t *testing.T) {
	q := New("test-queue", quietLogger())
	defer q.Close()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Post(func() {
					mu.Lock()
					active++
					if active > 1 {
						overlap = true
					}
					mu.Unlock()

					time.Sleep(10 * time.Microsecond)

					mu.Lock()
					active--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	q.Flush()

	assert.False(t, overlap, "queued functions MUST NOT overlap")
}

func TestQueue_SurvivesPanic(t *testing.T) {
	q := New("test-queue", quietLogger())
	defer q.Close()

	ran := false
	q.Post(func() { panic("handler bug") })
	q.Post(func() { ran = true })
	q.Flush()

	assert.True(t, ran, "queue MUST keep running after a panicking function")
}

func TestQueue_CloseDrainsThenRejects(t *testing.T) {
	q := New("test-queue", quietLogger())

	count := 0
	for i := 0; i < 10; i++ {
		q.Post(func() { count++ })
	}
	q.Close()
	q.Close()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not drain after Close")
	}

	assert.Equal(t, 10, count, "queued work MUST run before the queue stops")
	assert.False(t, q.Post(func() {}), "Post after Close MUST report false")
	assert.Equal(t, 0, q.Len())

	q.Flush() // must not block on a closed queue
}
