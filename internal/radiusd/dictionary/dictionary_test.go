package dictionary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLookups(t *testing.T) {
	d := Default()

	attr, ok := d.ByName("Acct-Status-Type")
	require.True(t, ok)
	assert.Equal(t, uint8(40), attr.Code)
	assert.Equal(t, uint32(0), attr.Vendor)

	byCode, ok := d.ByCode(0, 40)
	require.True(t, ok)
	assert.Same(t, attr, byCode)

	rate, ok := d.ByName("Mikrotik-Rate-Limit")
	require.True(t, ok)
	assert.Equal(t, uint32(14988), rate.Vendor)
	assert.Equal(t, uint8(8), rate.Code)

	v, ok := d.Vendor(311)
	require.True(t, ok)
	assert.Equal(t, "Microsoft", v.Name)

	_, ok = d.ByCode(14988, 200)
	assert.False(t, ok)
}

func TestAttributeEncodeFormat(t *testing.T) {
	d := Default()

	status, _ := d.ByName("Acct-Status-Type")
	raw, err := status.Encode("Interim-Update")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 3}, raw)
	assert.Equal(t, "Interim-Update", status.Format(raw))

	timeout, _ := d.ByName("Session-Timeout")
	raw, err = timeout.Encode("3600")
	require.NoError(t, err)
	assert.Equal(t, "3600", timeout.Format(raw))
	_, err = timeout.Encode("abc")
	assert.Error(t, err)

	ip, _ := d.ByName("Framed-IP-Address")
	raw, err = ip.Encode("10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", ip.Format(raw))
	_, err = ip.Encode("not-an-ip")
	assert.Error(t, err)

	class, _ := d.ByName("Class")
	raw, err = class.Encode("0x0102")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, raw)
	assert.Equal(t, "0x0102", class.Format(raw))

	event, _ := d.ByName("Event-Timestamp")
	raw, err = event.Encode("1700000000")
	require.NoError(t, err)
	assert.Len(t, raw, 4)
}

func TestLoadMergesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "extra.yml")
	content := `
vendors:
  - id: 2352
    name: Redback
    attributes:
      - {code: 4, name: Sub-Profile-Name, type: string}
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	d, err := Load(file)
	require.NoError(t, err)
	attr, ok := d.ByName("Sub-Profile-Name")
	require.True(t, ok)
	assert.Equal(t, uint32(2352), attr.Vendor)

	_, ok = d.ByName("User-Name")
	assert.True(t, ok)
}

func TestAddRejectsConflicts(t *testing.T) {
	d := Default()
	err := d.Parse([]byte("attributes:\n  - {code: 99, name: User-Name, type: string}\n"))
	assert.Error(t, err)

	err = d.Parse([]byte("attributes:\n  - {code: 1, name: User-Name, type: string}\n"))
	assert.NoError(t, err)

	err = d.Parse([]byte("attributes:\n  - {code: 200, name: Foo, type: float}\n"))
	assert.Error(t, err)
}
