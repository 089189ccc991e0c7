package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "5CCF7FEE90E0", NormalizeMAC("5c:cf:7f:ee:90:e0"))
	assert.Equal(t, "5CCF7FEE90E0", NormalizeMAC(" 5C-CF-7F-EE-90-E0 "))
	assert.Equal(t, "", NormalizeMAC(""))
}

func TestPickMAC(t *testing.T) {
	mac, err := PickMAC([]Interface{
		{Name: "wlan0", HardwareAddr: "aa:bb:cc:dd:ee:ff"},
		{Name: "lo", HardwareAddr: "00:00:00:00:00:00", Loopback: true},
		{Name: "docker0", HardwareAddr: "00:00:00:00:00:00"},
		{Name: "eth0", HardwareAddr: "5c:cf:7f:ee:90:e0"},
	})

	require.NoError(t, err)
	assert.Equal(t, "5CCF7FEE90E0", mac)
}

func TestPickMAC_None(t *testing.T) {
	_, err := PickMAC([]Interface{{Name: "lo", Loopback: true}})
	assert.ErrorIs(t, err, ErrNoMAC)
}

func TestDiscoverMAC_Override(t *testing.T) {
	mac, err := DiscoverMAC("5c:cf:7f:00:00:01")
	require.NoError(t, err)
	assert.Equal(t, "5CCF7F000001", mac)
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "esp8266", Platform("esp8266"))
	assert.NotEmpty(t, Platform(""))
}
