package gate

import "time"

// AuthSession is the operator's venue session. The gate refuses to evaluate
// anything without a present, unexpired session.
type AuthSession struct {
	Token     string
	ExpiresAt time.Time
}

func (a AuthSession) Valid(now time.Time) bool {
	return a.Token != "" && now.Before(a.ExpiresAt)
}
