package domain

// MinRating and MaxRating bound a review rating
const (
	MinRating = 1
	MaxRating = 5
)

// AverageRating recomputes the mean rating from scratch. Zero reviews yield 0.
func AverageRating(reviews []Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return float64(sum) / float64(len(reviews))
}

// ValidRating reports whether rating is within bounds
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}
