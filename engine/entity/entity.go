// Package entity defines the JSON envelope of the intake/ops API.
package entity

// Msg is the uniform API response envelope.
type Msg struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Obj     any    `json:"obj"`
}

// ProvisionResult is what collaborators poll for after submitting a
// provision request.
type ProvisionResult struct {
	Status          string `json:"status"`
	SubscriptionURL string `json:"subscriptionUrl,omitempty"`
	Error           string `json:"error,omitempty"`
}
