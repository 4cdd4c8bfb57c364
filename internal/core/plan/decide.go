// Package plan holds the pure decision procedures of the deployer:
// create-vs-update selection and expansion of the desired route tree
// into ordered provisioning operations.
package plan

// =============================================================================
// Create-vs-Update Decision
// =============================================================================

// Action is the single mutation chosen for one resource identity in one
// run. Exactly one of create or update is ever issued, determined solely
// by the existence probe.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Decide maps a probe result to the action for this identity.
// NotFound probes create the full desired descriptor; Found probes merge
// the desired fields over the observed descriptor.
func Decide(found bool) Action {
	if found {
		return ActionUpdate
	}
	return ActionCreate
}
