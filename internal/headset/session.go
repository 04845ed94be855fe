//go:build linux

package headset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"bluetooth-hsp/internal/atline"
	"bluetooth-hsp/internal/callstate"
	"bluetooth-hsp/internal/ofono"
	"bluetooth-hsp/internal/sco"
)

// ringPeriod is the interval between RING lines while ring indication is on.
const ringPeriod = 3 * time.Second

// ErrClosed is returned by operations invoked after the session tore down.
var ErrClosed = errors.New("headset: session closed")

// Session is one connected headset. It is created when BlueZ hands over the
// RFCOMM control channel and lives until that channel dies or Close is
// called.
type Session struct {
	cfg Config
	log *slog.Logger
	reg *callstate.Registry

	// cancelling ctx discards every pending telephony continuation
	ctx    context.Context
	cancel context.CancelFunc

	chunks  chan []byte
	readErr chan error
	modems  chan ofono.ModemsReply
	calls   chan ofono.CallsReply
	notify  chan ofono.Event
	ops     chan func()
	closed  chan struct{}

	// loop-owned state
	speakerGain    int
	microphoneGain int
	ringTimer      *time.Timer
	bearer         *sco.Bearer
}

// New wires a session and starts its event loop. The modem/call enumeration
// kicks off immediately.
func New(cfg Config) *Session {
	if cfg.Volume == nil {
		cfg.Volume = NopVolumeControl{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		log:     cfg.Log.With("component", "headset"),
		reg:     callstate.NewRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		chunks:  make(chan []byte, 8),
		readErr: make(chan error, 1),
		modems:  make(chan ofono.ModemsReply, 1),
		calls:   make(chan ofono.CallsReply, 4),
		notify:  make(chan ofono.Event, 8),
		ops:     make(chan func()),
		closed:  make(chan struct{}),
	}
	s.cfg.Telephony.RequestModems(ctx, s.modems)
	go s.readLoop()
	go s.run()
	return s
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close tears the session down and waits for the loop to exit. Idempotent.
func (s *Session) Close() {
	s.cancel()
	<-s.closed
}

// Deliver hands a telephony notification to the session. Safe from any
// goroutine; events arriving during teardown are dropped.
func (s *Session) Deliver(ev ofono.Event) {
	select {
	case s.notify <- ev:
	case <-s.closed:
	}
}

// SetSpeakerGain pushes a speaker gain value (0..15) to the headset. Writing
// back the value the headset itself reported is suppressed.
func (s *Session) SetSpeakerGain(gain int) {
	if gain < 0 || gain > atline.GainMax {
		return
	}
	s.do(func() {
		if s.speakerGain == gain {
			return
		}
		s.speakerGain = gain
		s.writeLine(atline.SpeakerGainLine(gain))
	})
}

// SetMicrophoneGain pushes a microphone gain value (0..15) to the headset,
// with the same suppression as SetSpeakerGain.
func (s *Session) SetMicrophoneGain(gain int) {
	if gain < 0 || gain > atline.GainMax {
		return
	}
	s.do(func() {
		if s.microphoneGain == gain {
			return
		}
		s.microphoneGain = gain
		s.writeLine(atline.MicrophoneGainLine(gain))
	})
}

// AcquireAudio opens the SCO bearer toward the headset and returns its
// descriptor and the fixed transport unit sizes. Callers own the descriptor
// and must pair every acquire with one ReleaseAudio.
func (s *Session) AcquireAudio() (fd, inUnit, outUnit int, err error) {
	ok := s.do(func() {
		if s.bearer != nil {
			err = errors.New("headset: audio already acquired")
			return
		}
		var b *sco.Bearer
		b, err = sco.Connect(s.cfg.Local, s.cfg.Remote)
		if err != nil {
			s.log.Error("SCO connect failed", "remote", s.cfg.Remote, "err", err)
			return
		}
		s.bearer = b
		fd, inUnit, outUnit = b.Fd(), b.InputMTU(), b.OutputMTU()
		s.cfg.Volume.Acquire(s)
		s.log.Info("audio bearer acquired", "remote", s.cfg.Remote, "fd", fd)
	})
	if !ok {
		return 0, 0, 0, ErrClosed
	}
	return fd, inUnit, outUnit, err
}

// ReleaseAudio undoes AcquireAudio's bookkeeping. The socket itself stays
// with whoever acquired it; the peer or session teardown closes it.
func (s *Session) ReleaseAudio() {
	s.do(func() {
		if s.bearer == nil {
			return
		}
		s.cfg.Volume.Release(s)
		s.bearer.Release()
		s.bearer = nil
		s.log.Info("audio bearer released", "remote", s.cfg.Remote)
	})
}

// do runs fn on the event loop and waits for it, or reports false if the
// session has already closed.
func (s *Session) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
		<-done
		return true
	case <-s.closed:
		return false
	}
}

// readLoop is the only reader of the control channel. It forwards chunks to
// the loop and reports the first read failure; that failure is the
// authoritative signal of channel death.
func (s *Session) readLoop() {
	buf := make([]byte, 512)
	for {
		n, err := s.cfg.Conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
		if err == nil && n == 0 {
			err = io.EOF
		}
		if err != nil {
			select {
			case s.readErr <- err:
			case <-s.ctx.Done():
			}
			return
		}
	}
}

func (s *Session) run() {
	defer close(s.closed)
	s.log.Info("control channel up", "remote", s.cfg.Remote)
	for {
		var ringC <-chan time.Time
		if s.ringTimer != nil {
			ringC = s.ringTimer.C
		}
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case err := <-s.readErr:
			if errors.Is(err, io.EOF) {
				s.log.Info("lost RFCOMM connection")
			} else {
				s.log.Error("RFCOMM read failed", "err", err)
			}
			s.teardown()
			return
		case chunk := <-s.chunks:
			s.handleChunk(chunk)
		case rep := <-s.modems:
			s.handleModems(rep)
		case rep := <-s.calls:
			s.handleCalls(rep)
		case ev := <-s.notify:
			s.handleNotification(ev)
		case op := <-s.ops:
			op()
		case <-ringC:
			s.writeLine(atline.Ring())
			s.ringTimer.Reset(ringPeriod)
		}
	}
}

func (s *Session) handleChunk(chunk []byte) {
	for _, ev := range atline.Decode(chunk) {
		s.log.Debug("RFCOMM <<", "line", ev.Line)
		switch ev.Kind {
		case atline.SpeakerGain:
			s.speakerGain = ev.Gain
			if s.cfg.OnSpeakerGain != nil {
				s.cfg.OnSpeakerGain(ev.Gain)
			}
		case atline.MicrophoneGain:
			s.microphoneGain = ev.Gain
			if s.cfg.OnMicrophoneGain != nil {
				s.cfg.OnMicrophoneGain(ev.Gain)
			}
		case atline.ButtonPress:
			s.handleButton()
		}
		s.writeLine(atline.OK())
	}
}

func (s *Session) handleButton() {
	for _, act := range s.reg.ButtonAction() {
		s.log.Debug("button action", "action", act.Kind, "call", act.Path)
		switch act.Kind {
		case callstate.Answer:
			s.cfg.Telephony.Answer(act.Path)
		case callstate.HoldAndAnswer:
			s.cfg.Telephony.HoldAndAnswer(act.Path)
		case callstate.Hangup:
			s.cfg.Telephony.Hangup(act.Path)
		case callstate.SwapCalls:
			// Sent right after the hangup; oFono is assumed to process
			// same-connection sends in order.
			s.cfg.Telephony.SwapCalls(act.Path)
		}
	}
}

func (s *Session) handleModems(rep ofono.ModemsReply) {
	if rep.Err != nil {
		s.log.Error("modem enumeration failed", "err", rep.Err)
		return
	}
	s.log.Debug("modems enumerated", "count", len(rep.Modems))
	for _, modem := range rep.Modems {
		s.cfg.Telephony.RequestCalls(s.ctx, modem, s.calls)
	}
}

func (s *Session) handleCalls(rep ofono.CallsReply) {
	if rep.Err != nil {
		s.log.Error("call enumeration failed", "modem", rep.Modem, "err", rep.Err)
		return
	}
	for _, ci := range rep.Calls {
		s.observe(ci.Path, ci.State)
	}
}

func (s *Session) observe(path string, st callstate.State) {
	s.log.Debug("call observed", "call", path, "state", st)
	if s.reg.Observe(path, st) {
		s.startRing()
	}
}

func (s *Session) handleNotification(ev ofono.Event) {
	switch ev.Kind {
	case ofono.CallAdded:
		s.observe(ev.Path, ev.State)
	case ofono.CallStateChanged:
		s.log.Debug("call state changed", "call", ev.Path, "state", ev.State)
		s.reg.Transition(ev.Path, ev.State)
		// any state change cancels a pending ring cycle
		s.stopRing()
	case ofono.ServiceVanished:
		s.log.Info("telephony service disappeared")
		s.reg.Clear()
		s.stopRing()
	case ofono.ServiceAppeared:
		s.log.Info("telephony service appeared")
		s.cfg.Telephony.RequestModems(s.ctx, s.modems)
	}
}

// startRing sends one RING immediately and arms the recurring timer. No-op
// while already ringing.
func (s *Session) startRing() {
	if s.ringTimer != nil {
		return
	}
	s.writeLine(atline.Ring())
	s.ringTimer = time.NewTimer(ringPeriod)
}

// stopRing cancels the ring timer. Idempotent.
func (s *Session) stopRing() {
	if s.ringTimer == nil {
		return
	}
	s.ringTimer.Stop()
	s.ringTimer = nil
}

// writeLine writes one outbound line. Failures are logged and otherwise
// ignored: channel death shows up on the read side.
func (s *Session) writeLine(line []byte) {
	s.log.Debug("RFCOMM >>", "line", strings.TrimSpace(string(line)))
	if _, err := s.cfg.Conn.Write(line); err != nil {
		s.log.Error("RFCOMM write failed", "err", err)
	}
}

func (s *Session) teardown() {
	s.cancel()
	s.stopRing()
	if s.bearer != nil {
		s.cfg.Volume.Release(s)
		if err := s.bearer.Shutdown(); err != nil {
			s.log.Error("SCO shutdown failed", "err", err)
		}
		s.bearer = nil
	}
	s.reg.Clear()
	// Kick the reader out of a blocking read before closing. ENOTSOCK is
	// fine; the control channel is not always a socket under test.
	_ = unix.Shutdown(int(s.cfg.Conn.Fd()), unix.SHUT_RDWR)
	_ = s.cfg.Conn.Close()
	s.log.Info("session closed", "remote", s.cfg.Remote)
}
