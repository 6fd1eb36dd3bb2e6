package vendorparsers

import (
	"testing"

	"github.com/bjo163/radbill/internal/domain"
	"github.com/bjo163/radbill/internal/radiusd/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

func TestNormalizeMac(t *testing.T) {
	cases := map[string]string{
		"AA-BB-CC-DD-EE-FF": "aa:bb:cc:dd:ee:ff",
		"aabb.ccdd.eeff":    "aa:bb:cc:dd:ee:ff",
		"AABBCCDDEEFF":      "aa:bb:cc:dd:ee:ff",
		"aa:bb:cc:dd:ee:ff": "aa:bb:cc:dd:ee:ff",
		"not-a-mac":         "not-a-mac",
		"aabbcc":            "aabbcc",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeMac(in), in)
	}
}

func TestParseVlan(t *testing.T) {
	v1, v2 := ParseVlan("slot=2;subslot=2;port=22;vlanid=503;vlanid2=100;")
	assert.Equal(t, int64(503), v1)
	assert.Equal(t, int64(100), v2)

	v1, v2 = ParseVlan("3/0/1:2814.727")
	assert.Equal(t, int64(2814), v1)
	assert.Equal(t, int64(727), v2)

	v1, v2 = ParseVlan("eth0")
	assert.Zero(t, v1)
	assert.Zero(t, v2)
}

func TestRegistryParse(t *testing.T) {
	reg := NewRegistry()

	p := radius.New(radius.CodeAccessRequest, []byte("secret"))
	require.NoError(t, rfc2865.CallingStationID_SetString(p, "AA-BB-CC-DD-EE-01"))
	require.NoError(t, rfc2869.NASPortID_SetString(p, "vlanid=10;vlanid2=20"))

	req := reg.Parse(domain.VendorHuawei, p)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", req.MacAddr)
	assert.Equal(t, int64(10), req.Vlanid1)
	assert.Equal(t, int64(20), req.Vlanid2)

	// unknown vendor falls back to the standard parser
	assert.Equal(t, domain.VendorStandard, reg.Get("99999").VendorCode())

	require.NoError(t, codec.AddVendor(p, 25506, h3cIpHostAddr, []byte("10.1.1.2 00:11:22:33:44:55")))
	req = reg.Parse(domain.VendorH3C, p)
	assert.Equal(t, "00:11:22:33:44:55", req.MacAddr)
}

func TestCiscoNasPortVlan(t *testing.T) {
	reg := NewRegistry()

	p := radius.New(radius.CodeAccessRequest, []byte("secret"))
	require.NoError(t, codec.AddVendor(p, 9, ciscoNasPort, []byte("Gi0/0/1.100:100.200")))
	req := reg.Parse(domain.VendorCisco, p)
	assert.Equal(t, int64(100), req.Vlanid1)
	assert.Equal(t, int64(200), req.Vlanid2)

	// the standard parser ignores the VSA
	req = reg.Parse(domain.VendorStandard, p)
	assert.Zero(t, req.Vlanid1)

	// NAS-Port-Id wins when both are present
	require.NoError(t, rfc2869.NASPortID_SetString(p, "vlanid=7"))
	req = reg.Parse(domain.VendorCisco, p)
	assert.Equal(t, int64(7), req.Vlanid1)
	assert.Zero(t, req.Vlanid2)
}
