package jobs

import "time"

// EmailVerificationPayload is deliberately ID-based: the worker reloads the
// user at send time so it always mails the currently stored verification
// code and can skip users that verified in the meantime.
type EmailVerificationPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
}
