package xsocket

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/adrg/xdg"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

const (
	familyLocal = 256
	familyWild  = 65535

	MagicCookie = "MIT-MAGIC-COOKIE-1"
)

// Auth is the authorization data sent in the connection setup.
type Auth struct {
	Name string
	Data []byte
}

// AuthorityPath returns $XAUTHORITY or ~/.Xauthority.
func AuthorityPath() string {
	if path := os.Getenv("XAUTHORITY"); path != "" {
		return path
	}
	return filepath.Join(xdg.Home, ".Xauthority")
}

// ReadAuthority looks up the cookie for the display in the authority file.
// A missing file or a missing entry yields empty authorization, which the
// server accepts when access control is disabled.
func ReadAuthority(d Display) (Auth, error) {
	f, err := os.Open(AuthorityPath())
	if errors.Is(err, os.ErrNotExist) {
		return Auth{}, nil
	}
	if err != nil {
		return Auth{}, fmt.Errorf("open authority file: %w", err)
	}
	defer f.Close()

	hostname := d.Host
	if hostname == "" || hostname == "localhost" {
		hostname, err = os.Hostname()
		if err != nil {
			return Auth{}, fmt.Errorf("get hostname: %w", err)
		}
	}

	return findAuthority(bufio.NewReader(f), hostname, strconv.Itoa(d.Number))
}

func findAuthority(r io.Reader, hostname, number string) (Auth, error) {
	for {
		var family uint16
		err := binary.Read(r, binary.BigEndian, &family)
		if errors.Is(err, io.EOF) {
			return Auth{}, nil
		}
		if err != nil {
			return Auth{}, fmt.Errorf("read family: %w", err)
		}

		addr, err := readField(r)
		if err != nil {
			return Auth{}, fmt.Errorf("read address: %w", err)
		}
		disp, err := readField(r)
		if err != nil {
			return Auth{}, fmt.Errorf("read display: %w", err)
		}
		name, err := readField(r)
		if err != nil {
			return Auth{}, fmt.Errorf("read name: %w", err)
		}
		data, err := readField(r)
		if err != nil {
			return Auth{}, fmt.Errorf("read data: %w", err)
		}

		addrMatch := family == familyWild || (family == familyLocal && string(addr) == hostname)
		dispMatch := len(disp) == 0 || string(disp) == number

		if addrMatch && dispMatch && string(name) == MagicCookie {
			return Auth{Name: string(name), Data: data}, nil
		}
	}
}

func readField(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
