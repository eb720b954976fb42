package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/pkg/models"
)

func TestStoreCRUD(t *testing.T) {
	store := NewStore()

	sess := models.NewSession("s-1")
	require.NoError(t, store.Create(sess))

	t.Run("duplicate create is rejected", func(t *testing.T) {
		err := store.Create(models.NewSession("s-1"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("get returns the stored session", func(t *testing.T) {
		got, err := store.Get("s-1")
		require.NoError(t, err)
		assert.Same(t, sess, got)
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		_, err := store.Get("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update replaces", func(t *testing.T) {
		replacement := models.NewSession("s-1")
		replacement.MainTask = "replaced"
		require.NoError(t, store.Update(replacement))

		got, err := store.Get("s-1")
		require.NoError(t, err)
		assert.Equal(t, "replaced", got.MainTask)
	})

	t.Run("update missing returns ErrNotFound", func(t *testing.T) {
		err := store.Update(models.NewSession("ghost"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list and count", func(t *testing.T) {
		require.NoError(t, store.Create(models.NewSession("s-2")))
		assert.Equal(t, 2, store.Count())
		assert.Len(t, store.List(), 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete("s-2"))
		assert.ErrorIs(t, store.Delete("s-2"), ErrNotFound)
	})
}

func TestStoreCreateValidation(t *testing.T) {
	store := NewStore()

	var validErr *models.ValidationError
	err := store.Create(&models.Session{})
	require.Error(t, err)
	assert.ErrorAs(t, err, &validErr)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Create(models.NewSession("shared")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = store.Get("shared")
				_ = store.List()
			}
		}()
	}
	wg.Wait()
}

func TestLockerSerializes(t *testing.T) {
	locker := NewLocker()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("s-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, counter)
}

func TestLockerIndependentSessions(t *testing.T) {
	locker := NewLocker()

	unlockA := locker.Lock("a")
	// A second session's lock must not block while "a" is held.
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
