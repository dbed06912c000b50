// Package model holds the data mappings the core pipeline needs. The full
// set of Mixer resource models lives with the resource clients; only the
// types consumed by the runtime itself are defined here.
package model

// User is a Mixer user account.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Verified  bool   `json:"verified"`
	Level     int    `json:"level"`
	ChannelID int    `json:"channelId,omitempty"`
}

// Channel is a Mixer channel.
type Channel struct {
	ID             int    `json:"id"`
	UserID         int    `json:"userId"`
	Token          string `json:"token"`
	Name           string `json:"name"`
	Online         bool   `json:"online"`
	Partnered      bool   `json:"partnered"`
	ViewersCurrent int    `json:"viewersCurrent"`
	NumFollowers   int    `json:"numFollowers"`
}

// ChatDetails are the connection endpoints and auth key for joining a
// channel's chat. AuthKey is empty when no end-user session exists.
type ChatDetails struct {
	Endpoints []string `json:"endpoints"`
	AuthKey   string   `json:"authkey"`
}
