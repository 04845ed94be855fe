// Package atline frames and parses the AT command lines exchanged on the HSP
// RFCOMM control channel.
//
// The gateway side of the protocol is deliberately small. The headset sends
// AT+VGS/AT+VGM gain updates and AT+CKPD=200 button presses; every line it
// sends, recognized or not, is acknowledged with OK. Outbound lines are RING
// and the unsolicited +VGS/+VGM gain notifications. All lines are ASCII and
// CRLF terminated.
package atline

import (
	"strconv"
	"strings"
)

// GainMax is the highest valid HSP gain value for either direction.
const GainMax = 15

// Kind identifies a decoded control-channel event.
type Kind int

const (
	// Unknown is any line outside the recognized vocabulary. It still gets
	// an OK acknowledgement.
	Unknown Kind = iota
	// SpeakerGain is AT+VGS=<n>.
	SpeakerGain
	// MicrophoneGain is AT+VGM=<n>.
	MicrophoneGain
	// ButtonPress is AT+CKPD=200, the headset hook/call button.
	ButtonPress
)

// Event is one decoded AT line. Gain is meaningful only for SpeakerGain and
// MicrophoneGain events.
type Event struct {
	Kind Kind
	Gain int
	Line string
}

// Decode parses one chunk read from the control channel into zero or more
// events, one per non-empty line. Lines may be separated by any mix of CR and
// LF.
func Decode(chunk []byte) []Event {
	isTerm := func(r rune) bool { return r == '\r' || r == '\n' }
	var evs []Event
	for _, line := range strings.FieldsFunc(string(chunk), isTerm) {
		evs = append(evs, decodeLine(line))
	}
	return evs
}

func decodeLine(line string) Event {
	ev := Event{Kind: Unknown, Line: line}
	switch {
	case strings.HasPrefix(line, "AT+VGS="):
		if n, ok := parseGain(line[len("AT+VGS="):]); ok {
			ev.Kind, ev.Gain = SpeakerGain, n
		}
	case strings.HasPrefix(line, "AT+VGM="):
		if n, ok := parseGain(line[len("AT+VGM="):]); ok {
			ev.Kind, ev.Gain = MicrophoneGain, n
		}
	case strings.HasPrefix(line, "AT+CKPD=200"):
		ev.Kind = ButtonPress
	}
	return ev
}

func parseGain(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > GainMax {
		return 0, false
	}
	return n, true
}

// OK is the acknowledgement sent for every decoded line.
func OK() []byte { return []byte("\r\nOK\r\n") }

// Ring is the ring indication line.
func Ring() []byte { return []byte("\r\nRING\r\n") }

// SpeakerGainLine formats the unsolicited speaker gain notification.
func SpeakerGainLine(gain int) []byte {
	return []byte("\r\n+VGS=" + strconv.Itoa(gain) + "\r\n")
}

// MicrophoneGainLine formats the unsolicited microphone gain notification.
func MicrophoneGainLine(gain int) []byte {
	return []byte("\r\n+VGM=" + strconv.Itoa(gain) + "\r\n")
}
