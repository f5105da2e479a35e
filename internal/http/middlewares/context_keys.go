package middlewares

// gin context keys shared between middlewares and handlers
const (
	CtxRequestID = "requestID"

	ctxUserIDKey       = "auth.userID"
	ctxEmailKey        = "auth.email"
	ctxSubscriptionKey = "auth.subscription"
)
