package settlement

import "fmt"

// StaticAuthorizer authorizes accounts against a fixed allow-list. An empty
// list authorizes every account, for deployments that gate access upstream
// (e.g. the RPC bearer token).
type StaticAuthorizer struct {
	allowed map[[20]byte]struct{}
}

// NewStaticAuthorizer builds an authorizer over the given accounts.
func NewStaticAuthorizer(accounts ...[20]byte) *StaticAuthorizer {
	auth := &StaticAuthorizer{}
	if len(accounts) > 0 {
		auth.allowed = make(map[[20]byte]struct{}, len(accounts))
		for _, account := range accounts {
			auth.allowed[account] = struct{}{}
		}
	}
	return auth
}

// Authorize implements the Authorizer interface.
func (a *StaticAuthorizer) Authorize(account [20]byte) error {
	if a == nil || a.allowed == nil {
		return nil
	}
	if _, ok := a.allowed[account]; !ok {
		return fmt.Errorf("account %x not in allow-list", account)
	}
	return nil
}
