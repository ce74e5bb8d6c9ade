package spatial

import "github.com/jengzang/lifecycle-backend-go/internal/models"

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// Geohash encodes c as a geohash of 1 to 12 characters. Precision 7 cells
// are roughly 150 m across, about the size of a synthesized place.
func Geohash(c models.Coordinate, precision int) string {
	precision = max(1, min(precision, 12))

	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	out := make([]byte, 0, precision)
	even := true
	bits, ch := 0, 0
	for len(out) < precision {
		rng, v := &latRange, c.Latitude
		if even {
			rng, v = &lonRange, c.Longitude
		}

		mid := (rng[0] + rng[1]) / 2
		ch <<= 1
		if v > mid {
			ch |= 1
			rng[0] = mid
		} else {
			rng[1] = mid
		}
		even = !even

		if bits++; bits == 5 {
			out = append(out, geohashAlphabet[ch])
			bits, ch = 0, 0
		}
	}
	return string(out)
}
