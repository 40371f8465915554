package guid

import (
	"github.com/google/uuid"
)

// New returns a fresh identifier for agents and other
// director-generated handles. Provider-assigned cids are never
// produced here; those come back from the CPI.
func New() string {
	return uuid.NewString()
}
