package domain

// UserContext is the authenticated user context injected into request
// handlers. User identity lives in the surrounding platform; this service
// only ever sees the opaque user id plus display hints.
type UserContext struct {
	UserID string `json:"user_id"`
	Login  string `json:"login"`
	Name   string `json:"name"`
}
