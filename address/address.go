// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package address implements the local-address grammar used between the
// network stack and the IBC protocol handler.
//
// A bound port is addressed as /ibc-port/<portID>. Connecting and connected
// channel ends are addressed as
//
//	(/ibc-hop/<connectionID>)*/ibc-port/<portID>/(ordered|unordered)/<version>[/ibc-channel/<channelID>]
package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blinklabs-io/goibc/protocol"
)

const (
	SegmentHop     = "ibc-hop"
	SegmentPort    = "ibc-port"
	SegmentChannel = "ibc-channel"
)

var identifierRegexp = regexp.MustCompile(`^[-a-zA-Z0-9._+#\[\]<>]+$`)

// ValidIdentifier reports whether s can be used as a port, hop or channel ID
func ValidIdentifier(s string) bool {
	return identifierRegexp.MatchString(s)
}

// PortAddress returns the bind address for a port ID
func PortAddress(portID string) string {
	return "/" + SegmentPort + "/" + portID
}

// ParsePortAddress extracts the port ID from a /ibc-port/<portID> address
func ParsePortAddress(addr string) (string, error) {
	parts := strings.Split(addr, "/")
	if len(parts) != 3 || parts[0] != "" || parts[1] != SegmentPort ||
		!ValidIdentifier(parts[2]) {
		return "", fmt.Errorf(
			"%w: %q must be /%s/<portID>",
			protocol.ErrInvalidAddress,
			addr,
			SegmentPort,
		)
	}
	return parts[2], nil
}

// ChannelAddress is the parsed form of a connecting or connected address
type ChannelAddress struct {
	Hops      []string
	PortID    string
	Order     protocol.Order
	Version   string
	ChannelID string
}

// ParseChannelAddress parses a channel address. The channel suffix is optional
func ParseChannelAddress(addr string) (ChannelAddress, error) {
	var ret ChannelAddress
	invalid := func(reason string) (ChannelAddress, error) {
		return ChannelAddress{}, fmt.Errorf(
			"%w: %q: %s",
			protocol.ErrInvalidAddress,
			addr,
			reason,
		)
	}
	if !strings.HasPrefix(addr, "/") {
		return invalid("must start with /")
	}
	parts := strings.Split(addr[1:], "/")
	idx := 0
	next := func() (string, bool) {
		if idx >= len(parts) {
			return "", false
		}
		idx++
		return parts[idx-1], true
	}
	seg, ok := next()
	for ok && seg == SegmentHop {
		hop, hopOk := next()
		if !hopOk || !ValidIdentifier(hop) {
			return invalid("bad connection hop")
		}
		ret.Hops = append(ret.Hops, hop)
		seg, ok = next()
	}
	if !ok || seg != SegmentPort {
		return invalid("missing /" + SegmentPort + "/ segment")
	}
	portID, ok := next()
	if !ok || !ValidIdentifier(portID) {
		return invalid("bad port ID")
	}
	ret.PortID = portID
	orderSeg, _ := next()
	switch orderSeg {
	case protocol.OrderOrdered.AddressSegment():
		ret.Order = protocol.OrderOrdered
	case protocol.OrderUnordered.AddressSegment():
		ret.Order = protocol.OrderUnordered
	default:
		return invalid("missing ordered|unordered segment")
	}
	version, ok := next()
	if !ok || version == "" {
		return invalid("missing version")
	}
	ret.Version = version
	if seg, ok := next(); ok {
		if seg != SegmentChannel {
			return invalid("unexpected segment " + seg)
		}
		channelID, ok := next()
		if !ok || !ValidIdentifier(channelID) {
			return invalid("bad channel ID")
		}
		ret.ChannelID = channelID
	}
	if idx != len(parts) {
		return invalid("trailing segments")
	}
	return ret, nil
}

// HopPath renders the connection hops as (/ibc-hop/<id>)*
func (a ChannelAddress) HopPath() string {
	var sb strings.Builder
	for _, hop := range a.Hops {
		sb.WriteString("/" + SegmentHop + "/" + hop)
	}
	return sb.String()
}

// WithChannel returns a copy of the address with the channel suffix set
func (a ChannelAddress) WithChannel(channelID string) ChannelAddress {
	ret := a
	ret.Hops = append([]string(nil), a.Hops...)
	ret.ChannelID = channelID
	return ret
}

// WithoutChannel returns a copy of the address with no channel suffix
func (a ChannelAddress) WithoutChannel() ChannelAddress {
	return a.WithChannel("")
}

func (a ChannelAddress) String() string {
	ret := fmt.Sprintf(
		"%s/%s/%s/%s/%s",
		a.HopPath(),
		SegmentPort,
		a.PortID,
		a.Order.AddressSegment(),
		a.Version,
	)
	if a.ChannelID != "" {
		ret += "/" + SegmentChannel + "/" + a.ChannelID
	}
	return ret
}

// SameHops reports whether two hop lists are element-wise identical
func SameHops(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
