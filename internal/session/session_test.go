package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/session"
	"github.com/shehryarbajwa/certfetch/internal/session/sessiontest"
)

func newManager(t *testing.T, b *sessiontest.Backend, max int64) (*session.Manager, *sessiontest.Launcher) {
	t.Helper()
	l := &sessiontest.Launcher{}
	m := session.NewManager(l, b.Attach, session.Config{
		MaxSessions:  max,
		PollInterval: 5 * time.Millisecond,
	})
	return m, l
}

func TestDoReleasesOnSuccess(t *testing.T) {
	b := sessiontest.NewBackend()
	m, l := newManager(t, b, 0)

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		assert.Equal(t, int64(1), m.Active())
		return s.Navigate(ctx, "https://example.test/")
	})
	require.NoError(t, err)

	assert.Equal(t, 1, l.Launched())
	assert.Equal(t, 1, l.Released())
	assert.True(t, b.Closed())
	assert.Equal(t, int64(0), m.Active())
	assert.Equal(t, []string{"https://example.test/"}, b.Navigated())
}

func TestDoReleasesOnError(t *testing.T) {
	b := sessiontest.NewBackend()
	m, l := newManager(t, b, 0)
	boom := errors.New("boom")

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Live())
}

func TestDoReleasesOnPanic(t *testing.T) {
	b := sessiontest.NewBackend()
	m, l := newManager(t, b, 0)

	assert.Panics(t, func() {
		_ = m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
			panic("task exploded")
		})
	})
	assert.Equal(t, 1, l.Released())
	assert.True(t, b.Closed())
}

func TestDoLaunchFailure(t *testing.T) {
	b := sessiontest.NewBackend()
	l := &sessiontest.Launcher{Err: errors.New("no chrome")}
	m := session.NewManager(l, b.Attach, session.Config{})

	ran := false
	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestDoAttachFailureStillReleases(t *testing.T) {
	b := sessiontest.NewBackend()
	b.Fail["Attach"] = errors.New("ws refused")
	m, l := newManager(t, b, 0)

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		t.Fatal("task must not run")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, l.Released())
}

func TestSessionUnusableAfterRelease(t *testing.T) {
	b := sessiontest.NewBackend()
	m, _ := newManager(t, b, 0)

	var leaked *session.Session
	require.NoError(t, m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		leaked = s
		return nil
	}))

	err := leaked.Navigate(context.Background(), "https://example.test/")
	require.ErrorIs(t, err, apperr.ErrSessionReleased)
}

func TestWaitUntil(t *testing.T) {
	b := sessiontest.NewBackend()
	b.Doc["#form"] = 1
	m, _ := newManager(t, b, 0)

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		require.NoError(t, s.WaitUntil(ctx, session.ElementPresent("#form"), time.Second))
		require.NoError(t, s.WaitUntil(ctx, session.DocumentReady(), time.Second))
		return s.WaitUntil(ctx, session.ElementPresent("#missing"), 30*time.Millisecond)
	})
	require.ErrorIs(t, err, apperr.ErrTimeout)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}

func TestSwitchToNewWindow(t *testing.T) {
	t.Run("opens", func(t *testing.T) {
		b := sessiontest.NewBackend()
		b.Doc["a.submit"] = 1
		b.WindowsAfterClick = 2
		m, _ := newManager(t, b, 0)

		err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
			if err := s.Click(ctx, "a.submit"); err != nil {
				return err
			}
			return s.SwitchToNewWindow(ctx, 2, time.Second)
		})
		require.NoError(t, err)
	})

	t.Run("never opens", func(t *testing.T) {
		b := sessiontest.NewBackend()
		m, l := newManager(t, b, 0)

		err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
			return s.SwitchToNewWindow(ctx, 2, 30*time.Millisecond)
		})
		require.ErrorIs(t, err, apperr.ErrWindowNotOpened)
		assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
		assert.Equal(t, 1, l.Released())
	})

	t.Run("too many", func(t *testing.T) {
		b := sessiontest.NewBackend()
		b.Doc["a.submit"] = 1
		b.WindowsAfterClick = 3
		m, _ := newManager(t, b, 0)

		err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
			_ = s.Click(ctx, "a.submit")
			return s.SwitchToNewWindow(ctx, 2, 30*time.Millisecond)
		})
		require.ErrorIs(t, err, apperr.ErrWindowNotOpened)
	})
}

func TestSwitchToFrameAndFindAll(t *testing.T) {
	b := sessiontest.NewBackend()
	b.Doc["#viewerFrame"] = 1
	b.FrameDoc["[id^='pageContainer']"] = 3
	m, _ := newManager(t, b, 0)

	var els []session.Element
	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		if err := s.SwitchToFrame(ctx, "#viewerFrame", time.Second); err != nil {
			return err
		}
		var err error
		els, err = s.FindAll(ctx, "[id^='pageContainer']", time.Second)
		return err
	})
	require.NoError(t, err)
	require.Len(t, els, 3)
	for i, el := range els {
		assert.Equal(t, i, el.Index)
	}
	assert.Equal(t, "#viewerFrame", b.InFrame())
}

func TestFindAllTimesOut(t *testing.T) {
	b := sessiontest.NewBackend()
	m, _ := newManager(t, b, 0)

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		_, err := s.FindAll(ctx, ".page", 20*time.Millisecond)
		return err
	})
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}

func TestFillMissingElement(t *testing.T) {
	b := sessiontest.NewBackend()
	m, _ := newManager(t, b, 0)

	err := m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
		return s.Fill(ctx, "#receptionNumber_1", "A")
	})
	require.ErrorIs(t, err, apperr.ErrElementNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMaxSessionsBoundsConcurrency(t *testing.T) {
	b := sessiontest.NewBackend()
	m, l := newManager(t, b, 2)

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 6, l.Launched())
	assert.Equal(t, 0, l.Live())
}

func TestAcquireHonoursContext(t *testing.T) {
	b := sessiontest.NewBackend()
	m, _ := newManager(t, b, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.Do(context.Background(), func(ctx context.Context, s *session.Session) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Do(ctx, func(ctx context.Context, s *session.Session) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttachFor(t *testing.T) {
	for _, name := range []string{"", "rod", "chromedp"} {
		fn, err := session.AttachFor(name)
		require.NoError(t, err, name)
		assert.NotNil(t, fn)
	}
	_, err := session.AttachFor("webkit")
	assert.Error(t, err)
}
