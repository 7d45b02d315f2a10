package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/himanshub16/upnext-room/room"
)

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	// RefreshToken belongs to the account owning the shared output device.
	RefreshToken string
	APIURL       string
	AccountsURL  string
}

// SpotifyClient drives the Spotify Web API player on behalf of the device
// owner and looks up track metadata.
type SpotifyClient struct {
	cfg    SpotifyConfig
	client *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewSpotifyClient(cfg SpotifyConfig) *SpotifyClient {
	return &SpotifyClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// accessToken returns a cached token, renewing it a little before expiry.
func (s *SpotifyClient) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(30*time.Second).Before(s.expiresAt) {
		return s.token, nil
	}
	if s.cfg.RefreshToken == "" {
		return "", errors.New("spotify: no refresh token configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.cfg.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.AccountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify: token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify: token refresh: %s", resp.Status)
	}

	response := struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("spotify: token refresh: %w", err)
	}

	s.token = response.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(response.ExpiresIn) * time.Second)
	log.Println("spotify: access token renewed, valid for", time.Duration(response.ExpiresIn)*time.Second)
	return s.token, nil
}

// call performs an authorized API request. body and out may be nil.
func (s *SpotifyClient) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	u := s.cfg.APIURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("spotify: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("spotify: %s %s: %s %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListDevices returns the ids of the devices available to the owner.
func (s *SpotifyClient) ListDevices(ctx context.Context) ([]string, error) {
	response := struct {
		Devices []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"devices"`
	}{}
	if err := s.call(ctx, "GET", "/v1/me/player/devices", nil, nil, &response); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(response.Devices))
	for _, d := range response.Devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *SpotifyClient) Play(ctx context.Context, deviceID, trackURI string, positionMs int64) error {
	query := url.Values{}
	query.Set("device_id", deviceID)
	body := map[string]interface{}{
		"uris":        []string{trackURI},
		"offset":      map[string]int{"position": 0},
		"position_ms": positionMs,
	}
	return s.call(ctx, "PUT", "/v1/me/player/play", query, body, nil)
}

func (s *SpotifyClient) Pause(ctx context.Context) error {
	return s.call(ctx, "PUT", "/v1/me/player/pause", nil, nil, nil)
}

// FillTrackMeta completes track with name, uri, artists and duration.
func (s *SpotifyClient) FillTrackMeta(ctx context.Context, track *room.Track) error {
	if track.ID == "" {
		return errors.New("spotify: track without id")
	}

	response := struct {
		ID         string `json:"id"`
		URI        string `json:"uri"`
		Name       string `json:"name"`
		DurationMs int64  `json:"duration_ms"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
	}{}
	if err := s.call(ctx, "GET", "/v1/tracks/"+url.PathEscape(track.ID), nil, nil, &response); err != nil {
		return err
	}

	track.URI = response.URI
	track.Name = response.Name
	track.DurationMs = response.DurationMs
	track.Artists = track.Artists[:0]
	for _, a := range response.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	return nil
}
