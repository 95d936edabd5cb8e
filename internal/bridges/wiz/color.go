package wiz

import (
	"fmt"
	"strconv"
	"strings"
)

// HexToRGB parses "#rrggbb", "rrggbb", "#rgb" or "rgb".
func HexToRGB(hex string) (r, g, b int, err error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return 0, 0, 0, fmt.Errorf("%w: colour %q is not a hex triplet", ErrArgumentOutOfRange, hex)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: colour %q: %w", ErrArgumentOutOfRange, hex, err)
	}
	return int((v >> 16) & 0xFF), int((v >> 8) & 0xFF), int(v & 0xFF), nil
}

// RGBToHex formats channels as "#rrggbb".
func RGBToHex(r, g, b int) string {
	return fmt.Sprintf("#%02x%02x%02x", r&0xFF, g&0xFF, b&0xFF)
}
