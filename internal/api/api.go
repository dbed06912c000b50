// Package api provides thin typed services over the request pipeline for
// the resources the runtime itself needs: session login, chat endpoint
// resolution, token grants, and channel lookup.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/beamkit/mixer-go/internal/model"
	"github.com/beamkit/mixer-go/internal/rest"
	"github.com/beamkit/mixer-go/internal/store"
)

// Client bundles the resource services around one request executor.
type Client struct {
	exec *rest.Executor
	st   store.Store

	Users    *UsersService
	Chat     *ChatService
	JWT      *JWTService
	Channels *ChannelsService
}

// New creates an API client over the given executor and credential store.
func New(exec *rest.Executor, st store.Store) *Client {
	c := &Client{exec: exec, st: st}
	c.Users = &UsersService{c}
	c.Chat = &ChatService{c}
	c.JWT = &JWTService{c}
	c.Channels = &ChannelsService{c}
	return c
}

// UsersService handles login, logout, and the current user.
type UsersService struct {
	client *Client
}

// Login authenticates with username and password, persisting the session
// cookies and grant token. code is the optional two-factor code; a missing
// but required code surfaces as a Requires2FA outcome.
func (s *UsersService) Login(ctx context.Context, username, password, code string) (*model.User, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	if code != "" {
		body["code"] = code
	}

	data, err := s.client.exec.Do(ctx, rest.Descriptor{
		Path:    "/users/login",
		Method:  http.MethodPost,
		Body:    body,
		Options: rest.OptNoAuth | rest.OptMayNeedCSRF | rest.OptStoreCookies | rest.OptStoreToken,
	})
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing login response: %w", err)
	}
	return &user, nil
}

// Current returns the user the stored grant token belongs to.
func (s *UsersService) Current(ctx context.Context) (*model.User, error) {
	data, err := s.client.exec.Do(ctx, rest.Descriptor{Path: "/users/current"})
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing current user: %w", err)
	}
	return &user, nil
}

// Logout ends the server-side session and clears every stored credential.
func (s *UsersService) Logout(ctx context.Context) error {
	_, err := s.client.exec.Do(ctx, rest.Descriptor{
		Path:    "/sessions/current",
		Method:  http.MethodDelete,
		Options: rest.OptCookieAuth,
	})
	s.client.st.Clear()
	return err
}

// ChatService resolves chat connection details. It satisfies the chat
// session's Resolver interface.
type ChatService struct {
	client *Client
}

// ChatDetails returns the chat endpoints and auth key for a channel. The
// auth key is only present with an authenticated session.
func (s *ChatService) ChatDetails(ctx context.Context, channelID int) (*model.ChatDetails, error) {
	data, err := s.client.exec.Do(ctx, rest.Descriptor{
		Path: "/chats/" + strconv.Itoa(channelID),
	})
	if err != nil {
		return nil, err
	}

	var details model.ChatDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("parsing chat details for channel %d: %w", channelID, err)
	}
	return &details, nil
}

// JWTService issues grant tokens from the stored session cookies.
type JWTService struct {
	client *Client
}

// Authorize exchanges the stored cookie session for a fresh grant token,
// which the executor persists from the x-jwt response header.
func (s *JWTService) Authorize(ctx context.Context) error {
	_, err := s.client.exec.Do(ctx, rest.Descriptor{
		Path:    "/jwt/authorize",
		Method:  http.MethodPost,
		Options: rest.OptCookieAuth | rest.OptStoreToken | rest.OptMayNeedCSRF,
	})
	return err
}

// ChannelsService looks up channels.
type ChannelsService struct {
	client *Client
}

// Channel returns a channel by numeric id.
func (s *ChannelsService) Channel(ctx context.Context, id int) (*model.Channel, error) {
	return s.channel(ctx, strconv.Itoa(id))
}

// ChannelByToken returns a channel by its token (the channel's URL name).
func (s *ChannelsService) ChannelByToken(ctx context.Context, token string) (*model.Channel, error) {
	return s.channel(ctx, token)
}

func (s *ChannelsService) channel(ctx context.Context, ref string) (*model.Channel, error) {
	data, err := s.client.exec.Do(ctx, rest.Descriptor{
		Path:    "/channels/" + ref,
		Options: rest.OptNoAuth,
	})
	if err != nil {
		return nil, err
	}

	var channel model.Channel
	if err := json.Unmarshal(data, &channel); err != nil {
		return nil, fmt.Errorf("parsing channel %s: %w", ref, err)
	}
	return &channel, nil
}
