package ephemeris

import (
	"fmt"
	"strings"

	satellite "github.com/joshuaferrara/go-satellite"
)

// parseTLE checks both element lines before handing them to SGP4, which
// does not report malformed input.
func parseTLE(line1, line2 string) (satellite.Satellite, error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	for i, line := range []string{line1, line2} {
		if len(line) != 69 {
			return satellite.Satellite{}, fmt.Errorf("line %d has %d characters, want 69", i+1, len(line))
		}
		if line[0] != byte('1'+i) || line[1] != ' ' {
			return satellite.Satellite{}, fmt.Errorf("line %d does not start with %q", i+1, string(rune('1'+i)))
		}
		if want, got := checksum(line[:68]), line[68]; got != want {
			return satellite.Satellite{}, fmt.Errorf("line %d checksum is %c, computed %c", i+1, got, want)
		}
	}
	if line1[2:7] != line2[2:7] {
		return satellite.Satellite{}, fmt.Errorf("catalog numbers %q and %q differ", line1[2:7], line2[2:7])
	}
	return satellite.TLEToSat(line1, line2, satellite.GravityWGS72), nil
}

// checksum is the modulo-10 sum of digits, with '-' counting as one.
func checksum(s string) byte {
	sum := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return byte('0' + sum%10)
}
