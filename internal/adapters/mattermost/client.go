package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
)

const apiPrefix = "/api/v4"

// Client — лёгкий клиент REST API Mattermost от лица текущего пользователя.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

var _ domain.ChatClient = (*Client)(nil)

// NewClient создаёт клиента с bearer-токеном.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + apiPrefix + path
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any, operation, target string) error {
	endpoint := c.url(path)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mattermost: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("mattermost: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("mattermost", operation, target, start, err)
		return fmt.Errorf("mattermost: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("mattermost: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		metrics.ObserveNetworkRequest("mattermost", operation, target, start, err)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveNetworkRequest("mattermost", operation, target, start, err)
		return fmt.Errorf("mattermost: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("mattermost", operation, target, start, nil)
	return nil
}

type teamPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListTeams возвращает команды текущего пользователя.
func (c *Client) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var payload []teamPayload
	if err := c.do(ctx, http.MethodGet, "/users/me/teams", nil, nil, &payload, "list_teams", "teams"); err != nil {
		return nil, err
	}
	teams := make([]domain.Team, 0, len(payload))
	for _, team := range payload {
		teams = append(teams, domain.Team{ID: team.ID, Name: team.Name})
	}
	return teams, nil
}

type channelPayload struct {
	ID            string `json:"id"`
	TeamID        string `json:"team_id"`
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Type          string `json:"type"`
	DeleteAt      int64  `json:"delete_at"`
	LastPostAt    int64  `json:"last_post_at"`
	TotalMsgCount int64  `json:"total_msg_count"`
}

// ListChannels возвращает каналы команды без архивированных.
func (c *Client) ListChannels(ctx context.Context, teamID string) ([]domain.Channel, error) {
	params := url.Values{}
	params.Set("include_deleted", "false")
	var payload []channelPayload
	if err := c.do(ctx, http.MethodGet, "/users/me/teams/"+teamID+"/channels", params, nil, &payload, "list_channels", teamID); err != nil {
		return nil, err
	}
	channels := make([]domain.Channel, 0, len(payload))
	for _, ch := range payload {
		channels = append(channels, domain.Channel{
			ID:            ch.ID,
			TeamID:        ch.TeamID,
			Name:          ch.Name,
			DisplayName:   ch.DisplayName,
			Type:          domain.ChannelType(ch.Type),
			DeleteAt:      ch.DeleteAt,
			LastPostAt:    ch.LastPostAt,
			TotalMsgCount: ch.TotalMsgCount,
		})
	}
	return channels, nil
}

type memberPayload struct {
	ChannelID          string         `json:"channel_id"`
	MsgCount           int64          `json:"msg_count"`
	MsgCountRoot       int64          `json:"msg_count_root"`
	MentionCount       int64          `json:"mention_count"`
	MentionCountRoot   int64          `json:"mention_count_root"`
	UrgentMentionCount int64          `json:"urgent_mention_count"`
	LastViewedAt       int64          `json:"last_viewed_at"`
	NotifyProps        map[string]any `json:"notify_props"`
	Highlighted        any            `json:"highlighted"`
}

// ListChannelMembers возвращает членства текущего пользователя в команде.
func (c *Client) ListChannelMembers(ctx context.Context, teamID string) ([]domain.Membership, error) {
	params := url.Values{}
	params.Set("per_page", "200")
	var payload []memberPayload
	if err := c.do(ctx, http.MethodGet, "/users/me/teams/"+teamID+"/channels/members", params, nil, &payload, "list_channel_members", teamID); err != nil {
		return nil, err
	}
	members := make([]domain.Membership, 0, len(payload))
	for _, m := range payload {
		members = append(members, domain.Membership{
			ChannelID:          m.ChannelID,
			MsgCount:           m.MsgCount,
			MsgCountRoot:       m.MsgCountRoot,
			MentionCount:       m.MentionCount,
			MentionCountRoot:   m.MentionCountRoot,
			UrgentMentionCount: m.UrgentMentionCount,
			LastViewedAt:       m.LastViewedAt,
			NotifyProps:        m.NotifyProps,
			Highlighted:        m.Highlighted,
		})
	}
	return members, nil
}

type postPayload struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	CreateAt int64  `json:"create_at"`
}

type postsPayload struct {
	Order []string               `json:"order"`
	Posts map[string]postPayload `json:"posts"`
}

// GetPosts возвращает сообщения канала в порядке выдачи API (новые
// первыми). Параметр since у API ведёт себя включительно, поэтому перед
// запросом отнимается миллисекунда — граничное сообщение не теряется, а
// строгий фильтр решателя отсечёт уже обработанное.
func (c *Client) GetPosts(ctx context.Context, channelID string, since int64, limit int) ([]domain.Post, error) {
	params := url.Values{}
	if since > 0 {
		params.Set("since", strconv.FormatInt(since-1, 10))
	} else if limit > 0 {
		params.Set("page", "0")
		params.Set("per_page", strconv.Itoa(limit))
	}
	var payload postsPayload
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/posts", params, nil, &payload, "get_posts", channelID); err != nil {
		return nil, err
	}
	posts := make([]domain.Post, 0, len(payload.Order))
	for _, postID := range payload.Order {
		p, ok := payload.Posts[postID]
		if !ok {
			continue
		}
		posts = append(posts, domain.Post{
			ID:       p.ID,
			UserID:   p.UserID,
			Message:  p.Message,
			CreateAt: p.CreateAt,
		})
	}
	return posts, nil
}

type userPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ResolveDisplayNames возвращает отображаемые имена для списка
// идентификаторов: никнейм, затем имя и фамилия, затем логин.
func (c *Client) ResolveDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}
	var payload []userPayload
	if err := c.do(ctx, http.MethodPost, "/users/ids", nil, userIDs, &payload, "resolve_users", "users"); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(payload))
	for _, user := range payload {
		names[user.ID] = displayName(user)
	}
	return names, nil
}

func displayName(user userPayload) string {
	if nickname := strings.TrimSpace(user.Nickname); nickname != "" {
		return nickname
	}
	full := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if full != "" {
		return full
	}
	if username := strings.TrimSpace(user.Username); username != "" {
		return username
	}
	return user.ID
}
