package main

import (
	"bufio"
	"strings"

	"github.com/MRamiBalles/NightlandServer/server/internal/events"
)

type frameKind int

const (
	frameGreeting frameKind = iota
	frameEcho
	frameText // an echoed line that arrived in the same read as the previous one
	frameEvents
)

type frame struct {
	kind   frameKind
	text   string
	events []events.Event
}

// readFrame splits the server's byte stream. Greetings and echoes are
// newline-terminated text; broadcasts are runs of ';'-terminated events
// whose kind names start with an upper-case letter.
func readFrame(r *bufio.Reader) (frame, error) {
	head, err := r.Peek(1)
	if err != nil {
		return frame{}, err
	}

	if isKindStart(head[0]) {
		if two, err := r.Peek(2); err != nil || string(two) != "Br" {
			text, err := r.ReadString(byte(events.Separator))
			if err != nil {
				return frame{}, err
			}
			evs, err := events.Decode(text)
			if err != nil {
				return frame{}, err
			}
			return frame{kind: frameEvents, text: text, events: evs}, nil
		}
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return frame{}, err
	}
	switch {
	case strings.HasPrefix(line, "Bravo."):
		return frame{kind: frameGreeting, text: line}, nil
	case strings.HasPrefix(line, "OK ... "):
		return frame{kind: frameEcho, text: line}, nil
	default:
		return frame{kind: frameText, text: line}, nil
	}
}

func isKindStart(b byte) bool {
	return b == 'B' || b == 'D' || b == 'E'
}
