package airquality

// band is an inclusive AQI range mapped to a category.
type band struct {
	low, high int
	category  Category
}

// bands are disjoint; 50, 100, 150, 200 and 300 fall between them and are
// reported as invalid rather than folded into a neighbour.
var bands = []band{
	{1, 49, CategoryGood},
	{51, 99, CategoryModerate},
	{101, 149, CategoryUnhealthyForSensitiveGroups},
	{151, 199, CategoryUnhealthy},
	{201, 299, CategoryVeryUnhealthy},
	{301, 499, CategoryHazardous},
}

// Classify maps a reading to its EPA category.
func Classify(r Reading) Category {
	aqi, ok := r.Value()
	if !ok {
		return CategoryNoData
	}
	for _, b := range bands {
		if aqi >= b.low && aqi <= b.high {
			return b.category
		}
	}
	return CategoryInvalid
}
