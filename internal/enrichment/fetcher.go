package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Profile is the subset of a platform user profile the gateway cares about.
type Profile struct {
	DisplayName string
	AvatarURL   string
	Locale      string
	Timezone    string
}

// ProfileFetcher fetches a customer profile from a platform, authenticated
// with the owning account's credentials. Implementations must be best-effort:
// callers log and swallow any error.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, platform, userExternalID, accessToken string) (*Profile, error)
}

// HTTPFetcher fetches profiles from the platform APIs over HTTP. The client
// timeout bounds every fetch; the core write path never waits on it.
type HTTPFetcher struct {
	client       *http.Client
	graphBaseURL string
	lineBaseURL  string
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:       &http.Client{Timeout: timeout},
		graphBaseURL: "https://graph.facebook.com/v19.0",
		lineBaseURL:  "https://api.line.me",
	}
}

func (f *HTTPFetcher) FetchProfile(ctx context.Context, platform, userExternalID, accessToken string) (*Profile, error) {
	switch platform {
	case "facebook":
		return f.fetchGraphProfile(ctx, userExternalID, accessToken)
	case "line":
		return f.fetchLineProfile(ctx, userExternalID, accessToken)
	default:
		// WhatsApp profiles arrive inside the webhook payload itself; there
		// is no separate profile endpoint to call.
		return nil, fmt.Errorf("no profile endpoint for platform %q", platform)
	}
}

func (f *HTTPFetcher) fetchGraphProfile(ctx context.Context, psid, accessToken string) (*Profile, error) {
	url := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic,locale,timezone&access_token=%s",
		f.graphBaseURL, psid, accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("graph profile fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		FirstName  string  `json:"first_name"`
		LastName   string  `json:"last_name"`
		ProfilePic string  `json:"profile_pic"`
		Locale     string  `json:"locale"`
		Timezone   float64 `json:"timezone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	name := result.FirstName
	if result.LastName != "" {
		name += " " + result.LastName
	}
	return &Profile{
		DisplayName: name,
		AvatarURL:   result.ProfilePic,
		Locale:      result.Locale,
		Timezone:    fmt.Sprintf("UTC%+g", result.Timezone),
	}, nil
}

func (f *HTTPFetcher) fetchLineProfile(ctx context.Context, userID, accessToken string) (*Profile, error) {
	url := fmt.Sprintf("%s/v2/bot/profile/%s", f.lineBaseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("line profile fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		DisplayName string `json:"displayName"`
		PictureURL  string `json:"pictureUrl"`
		Language    string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &Profile{
		DisplayName: result.DisplayName,
		AvatarURL:   result.PictureURL,
		Locale:      result.Language,
	}, nil
}
