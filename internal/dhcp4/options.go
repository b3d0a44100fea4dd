package dhcp4

import (
	"fmt"

	"github.com/vortexnet/netd/pkg/dhcpv4"
)

// maxOptionsOffset is the offset cap spec §4.8 gives for `add_option`: the
// options TLV stream may not grow past this many bytes.
const maxOptionsOffset = 312

// Options is a decoded set of DHCPv4 options, keyed by code (RFC 2132 §2 —
// TLV-encoded on the wire, map-keyed in memory).
type Options map[dhcpv4.OptionCode][]byte

// DecodeOptions parses the TLV options section of a packet, per spec §4.8
// `get_option`: PAD bytes are skipped, END stops the scan.
func DecodeOptions(data []byte) (Options, error) {
	opts := make(Options)
	i := 0
	for i < len(data) {
		code := dhcpv4.OptionCode(data[i])
		i++
		if code == dhcpv4.OptionPad {
			continue
		}
		if code == dhcpv4.OptionEnd {
			break
		}
		if i >= len(data) {
			return nil, fmt.Errorf("truncated option %d: no length byte", code)
		}
		length := int(data[i])
		i++
		if i+length > len(data) {
			return nil, fmt.Errorf("truncated option %d: need %d bytes, have %d", code, length, len(data)-i)
		}
		value := make([]byte, length)
		copy(value, data[i:i+length])
		opts[code] = value
		i += length
	}
	return opts, nil
}

// Encode serializes the options to TLV bytes terminated by END.
func (opts Options) Encode() []byte {
	size := 1
	for _, v := range opts {
		size += 2 + len(v)
	}
	buf := make([]byte, 0, size)
	for code, value := range opts {
		if code == dhcpv4.OptionPad || code == dhcpv4.OptionEnd {
			continue
		}
		buf = append(buf, byte(code))
		buf = append(buf, byte(len(value)))
		buf = append(buf, value...)
	}
	buf = append(buf, byte(dhcpv4.OptionEnd))
	return buf
}

// Add implements spec §4.8 `add_option`: appends code/value at the current
// END and fails if the resulting TLV stream would exceed maxOptionsOffset.
func (opts Options) Add(code dhcpv4.OptionCode, value []byte) error {
	projected := len(opts.Encode()) - 1 + 2 + len(value) // drop old END, add new TLV + new END
	if projected+1 > maxOptionsOffset {
		return fmt.Errorf("add_option %d: offset %d exceeds %d-byte option limit", code, projected+1, maxOptionsOffset)
	}
	opts[code] = value
	return nil
}

// Get implements spec §4.8 `get_option`.
func (opts Options) Get(code dhcpv4.OptionCode) ([]byte, bool) {
	v, ok := opts[code]
	return v, ok
}

func (opts Options) SetUint32(code dhcpv4.OptionCode, v uint32) {
	opts[code] = dhcpv4.Uint32ToBytes(v)
}

func (opts Options) SetString(code dhcpv4.OptionCode, s string) {
	opts[code] = []byte(s)
}

// Has reports whether the option is present.
func (opts Options) Has(code dhcpv4.OptionCode) bool {
	_, ok := opts[code]
	return ok
}

// Delete removes an option.
func (opts Options) Delete(code dhcpv4.OptionCode) {
	delete(opts, code)
}
