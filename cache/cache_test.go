package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/matryer/is"
)

func TestLoadOnce(t *testing.T) {
	is := is.New(t)
	calls := 0
	var mu sync.Mutex
	loader := func(key string) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "value-for-" + key, nil
	}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, err := Load("test-once", loader)
			is.NoErr(err)
			is.Equal(obj.(string), "value-for-test-once")
		}()
	}
	wg.Wait()
	is.Equal(calls, 1)

	Evict("test-once")
	_, err := Load("test-once", loader)
	is.NoErr(err)
	is.Equal(calls, 2)
}

func TestFailedLoadNotCached(t *testing.T) {
	is := is.New(t)
	boom := errors.New("boom")
	_, err := Load("test-fail", func(string) (any, error) { return nil, boom })
	is.True(errors.Is(err, boom))
	obj, err := Load("test-fail", func(string) (any, error) { return 42, nil })
	is.NoErr(err)
	is.Equal(obj.(int), 42)
}
