// Package headset drives one connected HSP headset: the RFCOMM control
// channel and its AT traffic, ring indication, call-state bookkeeping, and
// the SCO audio bearer callbacks.
//
// Thread-safety: a Session serializes all of its state on one event loop.
// The exported methods (gain setters, AcquireAudio/ReleaseAudio, Deliver,
// Close) may be called from any goroutine; they hand their work to the loop.
package headset

import (
	"context"
	"log/slog"
	"os"

	"bluetooth-hsp/internal/ofono"
	"bluetooth-hsp/internal/sco"
)

// Telephony is the slice of the modem manager a session needs. Implemented by
// *ofono.Client; tests substitute a fake.
type Telephony interface {
	// RequestModems and RequestCalls deliver their reply on the given
	// channel unless ctx is cancelled first; a cancelled request delivers
	// nothing.
	RequestModems(ctx context.Context, reply chan<- ofono.ModemsReply)
	RequestCalls(ctx context.Context, modem string, reply chan<- ofono.CallsReply)

	// Fire-and-forget call actions.
	Answer(path string)
	Hangup(path string)
	HoldAndAnswer(path string)
	SwapCalls(path string)
}

// VolumeControl brackets the audio path: Acquire when the bearer comes up,
// Release when it goes away, strictly 1:1.
type VolumeControl interface {
	Acquire(s *Session)
	Release(s *Session)
}

// NopVolumeControl satisfies VolumeControl for setups without a platform
// volume service.
type NopVolumeControl struct{}

func (NopVolumeControl) Acquire(*Session) {}
func (NopVolumeControl) Release(*Session) {}

// Config assembles one session's collaborators. Conn ownership passes to the
// session; it is closed on teardown.
type Config struct {
	Conn      *os.File // RFCOMM control channel
	Local     sco.Addr // adapter address
	Remote    sco.Addr // headset address
	Telephony Telephony
	Volume    VolumeControl
	Log       *slog.Logger

	// Optional hooks, fired on the session loop when the headset reports a
	// gain change.
	OnSpeakerGain    func(gain int)
	OnMicrophoneGain func(gain int)
}
