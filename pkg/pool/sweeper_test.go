package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browserpool/pkg/driver"
	"github.com/entrhq/browserpool/pkg/driver/drivertest"
	"github.com/entrhq/browserpool/pkg/session"
)

func TestSweeper_ClosesIdleBrowsers(t *testing.T) {
	drv := drivertest.New()
	clk := newFakeClock()
	m := session.NewManager(drv, session.WithClock(clk.Now))

	_, err := m.CreateBrowser(context.Background(), driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)

	s := NewSweeper(m, 5*time.Millisecond, time.Minute)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(m.ListBrowsers("")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSweeper_LeavesActiveBrowsers(t *testing.T) {
	drv := drivertest.New()
	clk := newFakeClock()
	m := session.NewManager(drv, session.WithClock(clk.Now))

	_, err := m.CreateBrowser(context.Background(), driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	s := NewSweeper(m, 5*time.Millisecond, time.Minute)
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Len(t, m.ListBrowsers(""), 1)
}

func TestSweeper_StartIsIdempotent(t *testing.T) {
	m := session.NewManager(drivertest.New())
	s := NewSweeper(m, time.Millisecond, time.Minute)

	s.Start()
	s.Start()
	s.Stop()
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	m := session.NewManager(drivertest.New())
	s := NewSweeper(m, time.Millisecond, time.Minute)

	// Stopping a never-started sweeper is safe.
	s.Stop()

	s.Start()
	s.Stop()
	s.Stop()
}

func TestSweeper_Defaults(t *testing.T) {
	m := session.NewManager(drivertest.New())
	s := NewSweeper(m, 0, 0)

	assert.Equal(t, DefaultSweepInterval, s.interval)
	assert.Equal(t, DefaultIdleTimeout, s.idleTimeout)
}
