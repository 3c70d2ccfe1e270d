package clock_test

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
)

func TestClockAdvance(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 3600, Total: 2, Interval: 0.5})
	assert.Equal(t, 1800.0, c.T)
	assert.False(t, c.Done())
	c.Advance()
	assert.Equal(t, 1800.5, c.T)
	assert.Equal(t, "00:30:00", c.String())
	c.Advance()
	assert.True(t, c.Done())
}

func TestClockNow(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 10, Total: 5, Interval: 1})
	res, err := c.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Msg.T)
}
