package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEndpointUnavailable is the transient fault raised for a site that
	// chaos controls mark as failed
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	// ErrInfeasible is matched by every InfeasibleError
	ErrInfeasible = errors.New("placement infeasible")
)

// Infeasibility reasons
const (
	ReasonInvalidRF         = "invalid_replication_factor"
	ReasonInsufficientSites = "insufficient_sites"
	ReasonProviderDiversity = "provider_diversity"
)

// InfeasibleError means no site set satisfies the constraints
type InfeasibleError struct {
	Key    string
	Reason string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("placement infeasible for %s: %s", e.Key, e.Reason)
}

func (e *InfeasibleError) Is(target error) bool {
	return target == ErrInfeasible
}
