package notify

// Policy controls how delivered notifications are presented. It is built once
// at startup and handed to the scheduler and dispatcher.
type Policy struct {
	PlaySound  bool
	SetBadge   bool
	ShowBanner bool
	ShowList   bool
	// AutoGrant answers first-time permission requests with "granted".
	AutoGrant bool
}

// DefaultPolicy shows banners and list entries without sound or badge.
func DefaultPolicy() Policy {
	return Policy{ShowBanner: true, ShowList: true, AutoGrant: true}
}
