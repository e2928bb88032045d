// Package roomapi is the HTTP client for the room membership service.
//
// Room lifecycle (create/join/leave/end, speaker limits) is owned by that
// service; the signaling core only calls it around connect/disconnect and
// reads the speaker/listener lists back.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

const defaultTimeout = 10 * time.Second

// Room is the membership view returned by GET /rooms/{id}.
type Room struct {
	ID        string                  `json:"id"`
	HostID    string                  `json:"host_id"`
	Speakers  []signaling.Participant `json:"speakers"`
	Listeners []signaling.Participant `json:"listeners"`
}

// RoleOf reports the role of a participant in the room.
func (r Room) RoleOf(participantID string) (signaling.Role, bool) {
	for _, p := range r.Speakers {
		if p.ID == participantID {
			return signaling.RoleSpeaker, true
		}
	}
	for _, p := range r.Listeners {
		if p.ID == participantID {
			return signaling.RoleListener, true
		}
	}
	return "", false
}

// Client talks to the room membership API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type joinRequest struct {
	ParticipantID string `json:"participant_id"`
}

// Join registers the participant with the room before signaling starts.
func (c *Client) Join(ctx context.Context, roomID, participantID string) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%s/join", roomID), joinRequest{ParticipantID: participantID})
}

// Leave deregisters the participant after signaling is torn down.
func (c *Client) Leave(ctx context.Context, roomID, participantID string) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%s/leave", roomID), joinRequest{ParticipantID: participantID})
}

// Get returns the room's current speaker/listener lists.
func (c *Client) Get(ctx context.Context, roomID string) (Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rooms/"+roomID, nil)
	if err != nil {
		return Room{}, fmt.Errorf("roomapi: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("roomapi: get room: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Room{}, fmt.Errorf("roomapi: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Room{}, fmt.Errorf("roomapi: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var room Room
	if err := json.Unmarshal(body, &room); err != nil {
		return Room{}, fmt.Errorf("roomapi: unmarshal room: %w", err)
	}
	return room, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("roomapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("roomapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roomapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("roomapi: %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
