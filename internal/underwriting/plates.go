// ABOUTME: Plate lookup used by the identify-by-plate step.
// ABOUTME: The only implementation is a simulation that answers with a fixed vehicle.

package underwriting

import (
	"context"
	"fmt"
	"strings"
)

// PlateResolver resolves a registration plate to a vehicle.
type PlateResolver interface {
	Resolve(ctx context.Context, plate string) (Vehicle, error)
}

// SimulatedRegistry always identifies the same vehicle.
type SimulatedRegistry struct{}

// simulatedVehicle is the vehicle returned for every plate.
var simulatedVehicle = Vehicle{
	Make:         "Renault",
	Model:        "Clio V",
	Version:      "1.0 TCe 90ch Zen",
	Year:         2021,
	Fuel:         FuelPetrol,
	CatalogValue: 18500,
}

// Resolve returns the simulated vehicle for any non-empty plate.
func (SimulatedRegistry) Resolve(_ context.Context, plate string) (Vehicle, error) {
	if NormalizePlate(plate) == "" {
		return Vehicle{}, fmt.Errorf("%w: immatriculation is required", ErrInvalidInput)
	}
	return simulatedVehicle, nil
}

// NormalizePlate trims and upper-cases a plate.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}
