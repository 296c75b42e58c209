package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
)

// GetAllowedOrigins splits a comma-separated origins string, falling back to
// the given defaults when unset.
// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
func GetAllowedOrigins(originsStr string, defaults []string) []string {
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("ALLOWED_ORIGINS not set. Using default development origins:\n%s", defaults))
		return defaults
	}
	return strings.Split(originsStr, ",")
}
