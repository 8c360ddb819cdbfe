package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"nlu-agent/model"
)

var ErrNoMusicResults = errors.New("no music results")

const (
	DefaultMusicBaseURL = "https://itunes.apple.com"
	DefaultMusicLimit   = 5
)

// MusicSearcher finds tracks for a free-text query. The first track is the
// one to play, the rest form the queue.
type MusicSearcher interface {
	Search(ctx context.Context, query string) ([]Track, error)
}

type Track struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Album        string `json:"album"`
	Duration     int    `json:"duration"` // seconds
	PreviewURL   string `json:"previewUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	TrackURL     string `json:"trackUrl,omitempty"`
}

type MusicConfig struct {
	BaseURL string
	Limit   int
	Timeout time.Duration
}

// MusicClient searches the iTunes catalogue. No key is needed.
type MusicClient struct {
	baseURL string
	limit   int
	httpCli *http.Client
	logger  *zap.Logger
}

func NewMusicClient(cfg MusicConfig, logger *zap.Logger) *MusicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMusicBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultMusicLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MusicClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		limit:   cfg.Limit,
		httpCli: &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("music"),
	}
}

type itunesResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackID         int64  `json:"trackId"`
		TrackName       string `json:"trackName"`
		ArtistName      string `json:"artistName"`
		CollectionName  string `json:"collectionName"`
		TrackTimeMillis int    `json:"trackTimeMillis"`
		PreviewURL      string `json:"previewUrl"`
		ArtworkURL100   string `json:"artworkUrl100"`
		TrackViewURL    string `json:"trackViewUrl"`
	} `json:"results"`
}

func (c *MusicClient) Search(ctx context.Context, query string) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoMusicResults)
	}

	q := url.Values{}
	q.Set("term", query)
	q.Set("entity", "song")
	q.Set("limit", fmt.Sprint(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search music: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("music search returned %d: %s", resp.StatusCode, body)
	}

	var ir itunesResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("decode music search: %w", err)
	}

	tracks := make([]Track, 0, len(ir.Results))
	for _, r := range ir.Results {
		if r.TrackName == "" {
			continue
		}
		artist := r.ArtistName
		if artist == "" {
			artist = "Unknown Artist"
		}
		album := r.CollectionName
		if album == "" {
			album = "Unknown Album"
		}
		tracks = append(tracks, Track{
			ID:           r.TrackID,
			Title:        r.TrackName,
			Artist:       artist,
			Album:        album,
			Duration:     r.TrackTimeMillis / 1000,
			PreviewURL:   r.PreviewURL,
			ThumbnailURL: r.ArtworkURL100,
			TrackURL:     r.TrackViewURL,
		})
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMusicResults, query)
	}

	c.logger.Debug("Music search", zap.String("query", query), zap.Int("results", len(tracks)))
	return tracks, nil
}

func queueOf(tracks []Track) []map[string]any {
	queue := make([]map[string]any, 0, len(tracks))
	for i, t := range tracks {
		queue = append(queue, map[string]any{
			"id":         i + 1,
			"title":      t.Title,
			"artist":     t.Artist,
			"previewUrl": t.PreviewURL,
		})
	}
	return queue
}

func playerUIData(tracks []Track) map[string]any {
	now := tracks[0]
	return map[string]any{
		"title":        now.Title,
		"artist":       now.Artist,
		"album":        now.Album,
		"duration":     now.Duration,
		"previewUrl":   now.PreviewURL,
		"thumbnailUrl": now.ThumbnailURL,
		"visualAsset":  now.ThumbnailURL,
		"playlist":     queueOf(tracks[1:]),
	}
}

// musicQuery joins song, artist and genre; without them any other string slot
// is used, and "music" as a last resort.
func musicQuery(slots model.Slots) string {
	var parts []string
	for _, name := range []model.SlotName{model.SlotSong, model.SlotArtist, model.SlotGenre} {
		if v := slots.String(name); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	for _, name := range []model.SlotName{
		model.SlotPlaylist, model.SlotAlbum, model.SlotStation,
		model.SlotPodcastName, model.SlotEpisode, model.SlotBookName, model.SlotAuthor,
	} {
		if v := slots.String(name); v != "" {
			return v
		}
	}
	return "music"
}

// MusicHandler serves music intents.
type MusicHandler struct {
	searcher MusicSearcher
	logger   *zap.Logger
}

func NewMusicHandler(searcher MusicSearcher, logger *zap.Logger) *MusicHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MusicHandler{searcher: searcher, logger: logger.Named("music-handler")}
}

func (h *MusicHandler) Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
	query := musicQuery(req.Slots)
	tracks, err := h.searcher.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	now := tracks[0]
	queue := queueOf(tracks[1:])
	return &model.HandlerResult{
		ResponseText: fmt.Sprintf("Now playing '%s' by %s. Enjoy the music!", now.Title, now.Artist),
		UIMode:       model.UIModeMusic,
		UIData:       playerUIData(tracks),
		Action: model.MusicAction{
			Type:     "music",
			Command:  "play",
			Artist:   now.Artist,
			Song:     now.Title,
			Genre:    req.Slots.String(model.SlotGenre),
			Playlist: req.Slots.String(model.SlotPlaylist),
			CurrentTrack: map[string]any{
				"title":  now.Title,
				"artist": now.Artist,
				"album":  now.Album,
			},
			Queue: queue,
		},
	}, nil
}
