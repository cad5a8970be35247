// Package underwriting defines the facts collected across the quote workflow.
//
// # Overview
//
// A quote is built in independent steps: the vehicle, the subscriber profile,
// the claims history, then a formula choice. The server keeps no record of any
// step. The caller carries every fact forward and supplies all of them again to
// the final-quote step.
//
// JSON tags use the French argument names of the public tool contract
// (marque, bonus_malus, nb_sinistres_responsable, ...).
//
// # Validation
//
// Each fact type has a Validate method enforcing its declared domain:
//
//   - catalog value >= 0
//   - bonus-malus in [0.5, 3.5]
//   - claim counts and insured years >= 0
//   - fuel, usage, parking and formula restricted to their enumerations
//
// Failures wrap ErrInvalidInput.
package underwriting
