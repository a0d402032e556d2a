package generation

import (
	"errors"
	"fmt"

	"github.com/solacelabs/tandem/internal/types"
)

// ErrInvalidCredential marks a rejected API key. The wizard treats this
// as terminal rather than retrying or falling back.
var ErrInvalidCredential = errors.New("generation: invalid API credential")

// UrgentContentError is returned by Translate when the annoyance
// contains crisis vocabulary. The app redirects the author to a direct
// conversation instead of mediating.
type UrgentContentError struct {
	Partner types.Member
}

func (e *UrgentContentError) Error() string {
	return fmt.Sprintf(
		"Ceci semble très important et urgent. La meilleure façon de le partager est d'en parler directement à %s quand vous serez calmes. Cette application n'est pas conçue pour les urgences.",
		e.Partner,
	)
}

// IsUrgent reports whether err wraps an UrgentContentError.
func IsUrgent(err error) bool {
	var ue *UrgentContentError
	return errors.As(err, &ue)
}
