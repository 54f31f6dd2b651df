package authapi

import "time"

type signupRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type signinRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type principalResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type signinResponse struct {
	Principal principalResponse `json:"principal"`
	Session   sessionResponse   `json:"session"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type signoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type meResponse struct {
	Principal principalResponse `json:"principal"`
}

type realtimeSendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type realtimeBroadcastRequest struct {
	Text string `json:"text"`
}

type realtimeSendResponse struct {
	Delivered bool `json:"delivered"`
}

type realtimeBroadcastResponse struct {
	Delivered int `json:"delivered"`
}

type realtimeStatusResponse struct {
	PrincipalID string `json:"principal_id"`
	Connected   bool   `json:"connected"`
}

type realtimeConnectedResponse struct {
	Principals []string `json:"principals"`
}

type realtimeStatsResponse struct {
	Connections int `json:"connections"`
}
