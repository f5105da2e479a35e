package notifications

import "context"

type SendVerificationEmailInput struct {
	Email            string
	VerificationCode string
}

type Notifier interface {
	SendVerificationEmail(ctx context.Context, input SendVerificationEmailInput) error
}
