package dhcp6

import (
	"encoding/binary"
	"fmt"

	"github.com/vortexnet/netd/pkg/dhcpv6"
)

// Option is one `{code(u16), len(u16), value}` TLV, per spec §4.9. Options
// are kept as an ordered slice (not a map) because IA_NA/IA_PD options
// legitimately repeat for multiple identity associations.
type Option struct {
	Code  dhcpv6.OptionCode
	Value []byte
}

// Options is an ordered list of top-level or sub-options.
type Options []Option

// DecodeOptions parses a packed TLV stream, per spec §4.9.
func DecodeOptions(data []byte) (Options, error) {
	var opts Options
	i := 0
	for i < len(data) {
		if i+4 > len(data) {
			return nil, fmt.Errorf("truncated option header at offset %d", i)
		}
		code := dhcpv6.OptionCode(binary.BigEndian.Uint16(data[i : i+2]))
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		i += 4
		if i+length > len(data) {
			return nil, fmt.Errorf("truncated option value at offset %d (code %d, len %d)", i, code, length)
		}
		value := make([]byte, length)
		copy(value, data[i:i+length])
		opts = append(opts, Option{Code: code, Value: value})
		i += length
	}
	return opts, nil
}

// Encode packs opts back into a TLV stream.
func (opts Options) Encode() []byte {
	buf := make([]byte, 0, len(opts)*4)
	for _, o := range opts {
		buf = append(buf, dhcpv6.Uint16ToBytes(uint16(o.Code))...)
		buf = append(buf, dhcpv6.Uint16ToBytes(uint16(len(o.Value)))...)
		buf = append(buf, o.Value...)
	}
	return buf
}

// Get returns the value of the first option with the given code.
func (opts Options) Get(code dhcpv6.OptionCode) ([]byte, bool) {
	for _, o := range opts {
		if o.Code == code {
			return o.Value, true
		}
	}
	return nil, false
}

// GetAll returns the values of every option with the given code, in order.
func (opts Options) GetAll(code dhcpv6.OptionCode) [][]byte {
	var out [][]byte
	for _, o := range opts {
		if o.Code == code {
			out = append(out, o.Value)
		}
	}
	return out
}

// Add appends a new option, preserving insertion order.
func (opts *Options) Add(code dhcpv6.OptionCode, value []byte) {
	*opts = append(*opts, Option{Code: code, Value: value})
}

// Has reports whether code is present.
func (opts Options) Has(code dhcpv6.OptionCode) bool {
	_, ok := opts.Get(code)
	return ok
}
