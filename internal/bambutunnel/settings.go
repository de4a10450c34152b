package bambutunnel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/tools"
	log "github.com/sirupsen/logrus"
)

// SchemePrefix - every local descriptor starts with it
const SchemePrefix = "bambu:///local/"

// hostSeparator - ends the hostname part of a descriptor
const hostSeparator = ".?"

// Settings - connection parameters parsed from a descriptor, immutable once parsed
type Settings struct {
	Hostname string
	Port     uint16
	Username string
	Password string
	// optional, empty when absent
	Serial        string
	NetVersion    string
	DevVersion    string
	ClientID      string
	ClientVersion string
}

// ParseSettings - parse `bambu:///local/<host>.?port=..&user=..&passwd=..[&...]`
//
// Values are taken verbatim up to the next `&`, the last of a repeated key wins.
func ParseSettings(descriptor string) (Settings, error) {
	const op = "parse descriptor"
	rest, ok := strings.CutPrefix(descriptor, SchemePrefix)
	if !ok {
		return Settings{}, errorf(KindConfig, op, "missing %q prefix", SchemePrefix)
	}
	host, query, ok := strings.Cut(rest, hostSeparator)
	if !ok {
		return Settings{}, errorf(KindConfig, op, "missing %q after hostname", hostSeparator)
	}

	s := Settings{Hostname: host}
	var port string
	var hasUser, hasPass, hasPort bool
	for _, segment := range strings.Split(query, "&") {
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return Settings{}, errorf(KindConfig, op, "segment %q has no value", segment)
		}
		switch key {
		case "user":
			s.Username, hasUser = value, true
		case "passwd":
			s.Password, hasPass = value, true
		case "port":
			port, hasPort = value, true
		case "device":
			s.Serial = value
		case "net_ver":
			s.NetVersion = value
		case "dev_ver":
			s.DevVersion = value
		case "cli_id":
			s.ClientID = value
		case "cli_ver":
			s.ClientVersion = value
		default:
			log.WithField("key", key).WithField("value", value).Warn("ignoring unknown descriptor key")
		}
	}

	switch {
	case !hasUser:
		return Settings{}, errorf(KindConfig, op, "missing user")
	case !hasPass:
		return Settings{}, errorf(KindConfig, op, "missing passwd")
	case !hasPort:
		return Settings{}, errorf(KindConfig, op, "missing port")
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Settings{}, newError(KindConfig, op, errors.Wrapf(err, "malformed port %q", port))
	}
	s.Port = uint16(n)
	return s, nil
}

// Address - `host:port` of the device
func (s Settings) Address() string {
	return tools.ToAddressString(s.Hostname, s.Port)
}

// String - descriptor form with the password redacted
func (s Settings) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%sport=%d&user=%s&passwd=%s", SchemePrefix, s.Hostname, hostSeparator,
		s.Port, s.Username, tools.Redact(s.Password))
	optional := []struct{ key, value string }{
		{"device", s.Serial},
		{"net_ver", s.NetVersion},
		{"dev_ver", s.DevVersion},
		{"cli_id", s.ClientID},
		{"cli_ver", s.ClientVersion},
	}
	for _, kv := range optional {
		if kv.value != "" {
			fmt.Fprintf(&b, "&%s=%s", kv.key, kv.value)
		}
	}
	return b.String()
}
