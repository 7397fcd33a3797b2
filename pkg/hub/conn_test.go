package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/HMasataka/beacon/pkg/transport/protocol"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu          sync.Mutex
	sent        [][]byte
	pings       int
	closes      int
	closeCode   int
	closeReason string
	sendErr     error
	pingErr     error
}

func (c *fakeConn) Send(_ context.Context, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closes > 0 {
		return domain.ErrConnectionClosed
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pings++
	return c.pingErr
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) closed() (int, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes, c.closeCode, c.closeReason
}

// envelopes decodes everything sent on c so far
func (c *fakeConn) envelopes(t *testing.T) []domain.Envelope {
	t.Helper()

	c.mu.Lock()
	sent := append([][]byte(nil), c.sent...)
	c.mu.Unlock()

	codec := protocol.NewJSONCodec()
	out := make([]domain.Envelope, 0, len(sent))
	for _, raw := range sent {
		env, err := codec.Decode(raw)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) last(t *testing.T) domain.Envelope {
	t.Helper()

	envs := c.envelopes(t)
	require.NotEmpty(t, envs)
	return envs[len(envs)-1]
}

var (
	mumbai = domain.Location{Lat: 19.07, Lng: 72.87}
	delhi  = domain.Location{Lat: 28.6, Lng: 77.2}
)

func registration(bloodType string, loc domain.Location) domain.Registration {
	return domain.Registration{
		UserType:    domain.UserTypeDonor,
		Location:    &loc,
		Preferences: &domain.Preferences{BloodType: bloodType},
	}
}
