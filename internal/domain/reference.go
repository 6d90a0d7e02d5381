// internal/domain/reference.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReference builds a human-legible transaction identifier:
// {TYPE}-{unix millis}-{userID}-{random}.
func NewReference(kind string, userID int64, now time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("%s-%d-%d-%s", kind, now.UnixMilli(), userID, random)
}
