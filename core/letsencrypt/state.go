package letsencrypt

// State is a step of a provisioning run.
type State string

const (
	StateIdle                  State = "idle"
	StateChallengeServerUp     State = "challenge_server_up"
	StateAccountReady          State = "account_ready"
	StateOrderOpen             State = "order_open"
	StateAuthorizationsPending State = "authorizations_pending"
	StateAuthorizationsValid   State = "authorizations_valid"
	StateFinalizing            State = "finalizing"
	StateCertIssued            State = "cert_issued"
	StateCleanup               State = "cleanup"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
