package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestZoneLookupReturnsAddedRecord(t *testing.T) {
	z := NewZone()
	z.Add(mustRR(t, "host.example.com. 300 IN A 10.0.0.5"))

	rrs := z.Lookup("host.example.com.", dns.TypeA)
	require.Len(t, rrs, 1)
	a, ok := rrs[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "10.0.0.5", a.A.String())
}

func TestZoneLookupIsCaseInsensitive(t *testing.T) {
	z := NewZone()
	z.Add(mustRR(t, "Host.Example.com. 300 IN A 10.0.0.5"))

	rrs := z.Lookup("host.EXAMPLE.com.", dns.TypeA)
	require.Len(t, rrs, 1)
}

func TestZoneLookupMissesUnknownName(t *testing.T) {
	z := NewZone()
	rrs := z.Lookup("nowhere.example.com.", dns.TypeA)
	require.Nil(t, rrs)
}

func TestZoneLookupRejectsUnanswerableType(t *testing.T) {
	z := NewZone()
	z.Add(mustRR(t, "example.com. 300 IN SOA ns.example.com. hostmaster.example.com. 1 3600 600 86400 60"))

	rrs := z.Lookup("example.com.", dns.TypeSOA)
	require.Nil(t, rrs)
}

func TestZoneAddAccumulatesMultipleRecords(t *testing.T) {
	z := NewZone()
	z.Add(mustRR(t, "multi.example.com. 300 IN A 10.0.0.1"))
	z.Add(mustRR(t, "multi.example.com. 300 IN A 10.0.0.2"))

	rrs := z.Lookup("multi.example.com.", dns.TypeA)
	require.Len(t, rrs, 2)
	require.Equal(t, 2, z.Count())
}

func TestZoneLookupReturnsCopiesNotAliases(t *testing.T) {
	z := NewZone()
	z.Add(mustRR(t, "mutate.example.com. 300 IN A 10.0.0.1"))

	rrs := z.Lookup("mutate.example.com.", dns.TypeA)
	rrs[0].(*dns.A).A[0] = 255

	rrs2 := z.Lookup("mutate.example.com.", dns.TypeA)
	require.Equal(t, "10.0.0.1", rrs2[0].(*dns.A).A.String())
}

func TestZoneLoadReaderParsesMasterFile(t *testing.T) {
	z := NewZone()
	zonefile := `
$ORIGIN example.com.
@       IN SOA  ns.example.com. hostmaster.example.com. 1 3600 600 86400 60
www     IN A    10.0.0.10
mail    IN A    10.0.0.20
`
	err := z.LoadReader(strings.NewReader(zonefile), "example.com.zone", "example.com.")
	require.NoError(t, err)

	rrs := z.Lookup("www.example.com.", dns.TypeA)
	require.Len(t, rrs, 1)
	require.Equal(t, "10.0.0.10", rrs[0].(*dns.A).A.String())
}

func TestZoneLoadFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.com.zone")
	contents := "$ORIGIN example.com.\nwww IN A 10.0.0.30\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	z := NewZone()
	require.NoError(t, z.LoadFile(path, "example.com."))

	rrs := z.Lookup("www.example.com.", dns.TypeA)
	require.Len(t, rrs, 1)
	require.Equal(t, "10.0.0.30", rrs[0].(*dns.A).A.String())
}

func TestZoneLoadReaderRejectsEmptyFile(t *testing.T) {
	z := NewZone()
	err := z.LoadReader(strings.NewReader(""), "empty.zone", "example.com.")
	require.Error(t, err)
}
