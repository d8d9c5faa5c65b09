package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/chatvoice/internal/resilience"
	"github.com/MrWong99/chatvoice/pkg/audio"
)

// DeviceCheck fails while dev's streams are not running.
func DeviceCheck(dev audio.Device) Checker {
	return Checker{
		Name: "audio",
		Check: func(context.Context) error {
			if !dev.Running() {
				return errors.New("audio streams not running")
			}
			return nil
		},
	}
}

// BreakerCheck fails while cb is open.
func BreakerCheck(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s", s)
			}
			return nil
		},
	}
}

// BacklogCheck fails when more than max of speech is waiting to be played,
// which means the overlay path is active and lines are being stacked.
func BacklogCheck(mx audio.Mixer, max time.Duration) Checker {
	return Checker{
		Name: "backlog",
		Check: func(context.Context) error {
			if b := mx.Stats().Backlog; b > max {
				return fmt.Errorf("backlog %s exceeds %s", b.Round(time.Millisecond), max)
			}
			return nil
		},
	}
}

// PlaybackSnapshot adapts mx for [WithPlayback].
func PlaybackSnapshot(mx audio.Mixer) func() Playback {
	return func() Playback {
		st := mx.Stats()
		return Playback{
			BacklogSeconds: st.Backlog.Seconds(),
			TalkActivity:   st.TalkActivity,
			DuckedBlocks:   st.DuckedBlocks,
			PlayedBlocks:   st.PlayedBlocks,
		}
	}
}
