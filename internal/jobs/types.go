package jobs

type JobType string

const (
	// JobEmailVerification delivers the account verification email. Enqueued
	// by register (same transaction as the user insert) and by resend.
	JobEmailVerification JobType = "email.verification"
)

// IsValid reports whether the job type is a known constant.
func (t JobType) IsValid() bool {
	switch t {
	case JobEmailVerification:
		return true
	default:
		return false
	}
}
