package geo

import "math"

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineM(lat1, lng1, lat2, lng2) / 1000
}

// LatLng is a bare coordinate pair, used for course waypoints.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SegmentDistanceM returns the distance in meters from point p to the
// segment a-b. Good enough at course scale: coordinates are projected onto
// a local tangent plane around a, where the segment is effectively straight.
func SegmentDistanceM(p, a, b LatLng) float64 {
	// meters per degree at a's latitude
	mLat := earthRadiusM * math.Pi / 180
	mLng := mLat * math.Cos(a.Lat*math.Pi/180)

	px := (p.Lng - a.Lng) * mLng
	py := (p.Lat - a.Lat) * mLat
	bx := (b.Lng - a.Lng) * mLng
	by := (b.Lat - a.Lat) * mLat

	segLen2 := bx*bx + by*by
	if segLen2 == 0 {
		return math.Hypot(px, py)
	}
	t := (px*bx + py*by) / segLen2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-t*bx, py-t*by)
}

// DeviationM returns the minimum distance in meters from p to the polyline
// described by waypoints. A polyline with fewer than two points degenerates
// to point distance; an empty one yields +Inf (no course to deviate from).
func DeviationM(p LatLng, waypoints []LatLng) float64 {
	if len(waypoints) == 0 {
		return math.Inf(1)
	}
	if len(waypoints) == 1 {
		return HaversineM(p.Lat, p.Lng, waypoints[0].Lat, waypoints[0].Lng)
	}
	min := math.Inf(1)
	for i := 0; i < len(waypoints)-1; i++ {
		d := SegmentDistanceM(p, waypoints[i], waypoints[i+1])
		if d < min {
			min = d
		}
	}
	return min
}
