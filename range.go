package telemeter

// RangeKm is the distance left on the current fuel at the given economy.
func RangeKm(fuelL, economyKmPerL float64) float64 {
	return fuelL * economyKmPerL
}

// LowFuel reports whether the fuel level is at or below the reserve threshold.
func LowFuel(fuelL, reserveL float64) bool {
	return fuelL <= reserveL
}
