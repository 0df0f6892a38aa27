package xsocket

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var ErrNoDisplay = errors.New("no display set, X might not be running")

// Display is a parsed X display name.
type Display struct {
	Name     string
	Protocol string
	Host     string
	Address  string
	Number   int
	Screen   int
}

// ParseDisplay parses an X display name. An empty name falls back to $DISPLAY.
//
//	":1"               -> unix /tmp/.X11-unix/X1
//	"/tmp/launch-12/:0" -> unix /tmp/launch-12/:0
//	"hostname:2.1"     -> tcp hostname:6002, screen 1
//	"tcp/hostname:1.0" -> tcp hostname:6001
func ParseDisplay(name string) (Display, error) {
	if name == "" {
		name = os.Getenv("DISPLAY")
	}
	if name == "" {
		return Display{}, ErrNoDisplay
	}

	d := Display{Name: name}

	colonIdx := strings.LastIndex(name, ":")
	if colonIdx < 0 {
		return Display{}, fmt.Errorf("bad display string: %q", name)
	}

	var socket string
	if name[0] == '/' {
		socket = name[:colonIdx]
	} else {
		slashIdx := strings.LastIndex(name[:colonIdx], "/")
		if slashIdx >= 0 {
			d.Protocol = name[:slashIdx]
			d.Host = name[slashIdx+1 : colonIdx]
		} else {
			d.Host = name[:colonIdx]
		}
	}

	number, screen, err := parseNumber(name[colonIdx+1:])
	if err != nil {
		return Display{}, fmt.Errorf("bad display string %q: %w", name, err)
	}
	d.Number, d.Screen = number, screen

	switch {
	case socket != "":
		d.Protocol = "unix"
		d.Address = socket
	case d.Host == "" || d.Host == "unix" || d.Protocol == "unix":
		d.Protocol = "unix"
		d.Host = ""
		d.Address = fmt.Sprintf("/tmp/.X11-unix/X%d", d.Number)
	default:
		if d.Protocol == "" {
			d.Protocol = "tcp"
		}
		if d.Protocol != "tcp" && d.Protocol != "inet" && d.Protocol != "inet6" {
			return Display{}, fmt.Errorf("unsupported display protocol %q", d.Protocol)
		}
		d.Protocol = "tcp"
		d.Address = fmt.Sprintf("%s:%d", d.Host, 6000+d.Number)
	}

	return d, nil
}

func parseNumber(s string) (int, int, error) {
	numStr, screenStr, hasScreen := strings.Cut(s, ".")

	number, err := strconv.Atoi(numStr)
	if err != nil || number < 0 {
		return 0, 0, fmt.Errorf("invalid display number %q", numStr)
	}

	if !hasScreen {
		return number, 0, nil
	}

	screen, err := strconv.Atoi(screenStr)
	if err != nil || screen < 0 {
		return 0, 0, fmt.Errorf("invalid screen number %q", screenStr)
	}

	return number, screen, nil
}
