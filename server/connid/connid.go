package connid

import "github.com/google/uuid"

// Generate returns a new random connection id.
func Generate() string {
	return uuid.NewString()
}
