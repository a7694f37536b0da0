package lockmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptionsValidate_RejectsHeartbeatNotSmallerThanTTL(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"heartbeat equal to ttl", Options{LockTTL: 60 * time.Second, HeartbeatInterval: 60 * time.Second}, true},
		{"heartbeat greater than ttl", Options{LockTTL: 60 * time.Second, HeartbeatInterval: 90 * time.Second}, true},
		{"zero ttl", Options{LockTTL: 0, HeartbeatInterval: 10 * time.Second}, true},
		{"valid", Options{LockTTL: 60 * time.Second, HeartbeatInterval: 20 * time.Second}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.opts.validate()
			if c.wantErr {
				require.ErrorIs(t, err, ErrInvalidLeaseConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
