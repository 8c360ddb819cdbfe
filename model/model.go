package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Category is the handling bucket an intent is dispatched to.
type Category string

const (
	CategoryWeather Category = "weather"
	CategoryMusic   Category = "music"
	CategoryIoT     Category = "iot"
	CategoryGeneral Category = "general"
)

const (
	UIModeWeather    = "weather"
	UIModeMusic      = "music"
	UIModeSmartHome  = "smart_home"
	UIModeAIResponse = "ai_response"
)

// UIMode returns the presentation tag the transport layer renders for the category.
func (c Category) UIMode() string {
	switch c {
	case CategoryWeather:
		return UIModeWeather
	case CategoryMusic:
		return UIModeMusic
	case CategoryIoT:
		return UIModeSmartHome
	default:
		return UIModeAIResponse
	}
}

// DialogueState is the conceptual phase of a session within one turn.
type DialogueState string

const (
	StateIdle       DialogueState = "idle"
	StateCollecting DialogueState = "collecting"
	StateError      DialogueState = "error"
)

// ResponseState is the turn outcome reported to the caller.
type ResponseState string

const (
	ResponseAwaitingInfo ResponseState = "awaiting_info"
	ResponseCompleted    ResponseState = "completed"
	ResponseError        ResponseState = "error"
)

// SlotName is a canonical slot name. Classifier keys that have no alias are
// carried as SlotName(raw).
type SlotName string

const (
	SlotLocation    SlotName = "location"
	SlotDatetime    SlotName = "datetime"
	SlotSong        SlotName = "song"
	SlotArtist      SlotName = "artist"
	SlotGenre       SlotName = "genre"
	SlotAlbum       SlotName = "album"
	SlotPlaylist    SlotName = "playlist"
	SlotStation     SlotName = "station"
	SlotPodcastName SlotName = "podcast_name"
	SlotEpisode     SlotName = "episode"
	SlotBookName    SlotName = "book_name"
	SlotAuthor      SlotName = "author"
	SlotDeviceName  SlotName = "device_name"
	SlotRoom        SlotName = "room"
	SlotColor       SlotName = "color"
	SlotBrightness  SlotName = "brightness"
	SlotStrength    SlotName = "strength"
	SlotSize        SlotName = "size"
	SlotMode        SlotName = "mode"
)

// CanonicalSlots lists every canonical slot name.
var CanonicalSlots = []SlotName{
	SlotLocation, SlotDatetime,
	SlotSong, SlotArtist, SlotGenre, SlotAlbum, SlotPlaylist,
	SlotStation, SlotPodcastName, SlotEpisode, SlotBookName, SlotAuthor,
	SlotDeviceName, SlotRoom, SlotColor, SlotBrightness,
	SlotStrength, SlotSize, SlotMode,
}

// IsCanonical reports whether n is one of CanonicalSlots.
func (n SlotName) IsCanonical() bool {
	for _, c := range CanonicalSlots {
		if c == n {
			return true
		}
	}
	return false
}

type Slots map[SlotName]any

// Clone returns a shallow copy; nil stays nil.
func (s Slots) Clone() Slots {
	if s == nil {
		return nil
	}
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// String returns the slot value as a string when it holds one.
func (s Slots) String(name SlotName) string {
	v, ok := s[name]
	if !ok || v == nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Turn is one utterance. It is never modified after it is appended to a history.
type Turn struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Intent    string         `json:"intent,omitempty"`
	Slots     map[string]any `json:"slots,omitempty"`
}

// ClassificationResult is produced by the external classifier and consumed read-only.
type ClassificationResult struct {
	Intent             string           `json:"intent,omitempty"`
	Confidence         float64          `json:"confidence"`
	Slots              map[string]any   `json:"slots"`
	Entities           []map[string]any `json:"entities"`
	NeedsClarification bool             `json:"needs_clarification"`
	Candidates         []map[string]any `json:"candidates"`
}

// DegradedClassification is returned whenever the classifier cannot be reached.
func DegradedClassification() ClassificationResult {
	return ClassificationResult{
		Confidence:         0,
		Slots:              map[string]any{},
		NeedsClarification: true,
	}
}

// ContextHint is passed to the classifier while an intent is in progress.
type ContextHint struct {
	CurrentIntent  string `json:"current_intent"`
	CollectedSlots Slots  `json:"collected_slots"`
	AwaitingSlot   string `json:"awaiting_slot,omitempty"`
}

// SlotSchema lists the slots of one intent in declaration order.
type SlotSchema struct {
	Required []SlotName `yaml:"required" json:"required"`
	Optional []SlotName `yaml:"optional" json:"optional"`
}

// IntentDefinition is one entry of config/intents.yaml.
type IntentDefinition struct {
	ID       string     `yaml:"id"`
	Category Category   `yaml:"category"`
	Required []SlotName `yaml:"required"`
	Optional []SlotName `yaml:"optional"`
	Enabled  *bool      `yaml:"enabled"`
}

// IsEnabled treats a missing flag as enabled.
func (d IntentDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

type IntentConfig struct {
	Intents []IntentDefinition  `yaml:"intents"`
	Prompts map[SlotName]string `yaml:"prompts"`
	Aliases map[string]SlotName `yaml:"aliases"`
}

// HandlerRequest is what a category handler receives. Slots is set for
// executed intents; Message and History are set for the open-ended fallback.
type HandlerRequest struct {
	SessionID string
	Intent    string
	Slots     Slots
	Message   string
	History   []Turn
}

// HandlerResult is the outcome of one category handler call.
type HandlerResult struct {
	ResponseText string
	UIMode       string
	UIData       map[string]any
	Action       ActionRecord
	Suggestions  []string
}

// ActionRecord is the structured action a handler performed.
type ActionRecord interface {
	ActionType() string
}

type WeatherAction struct {
	Type        string           `json:"type"`
	Location    string           `json:"location,omitempty"`
	Datetime    string           `json:"datetime,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Condition   string           `json:"condition,omitempty"`
	Humidity    *int             `json:"humidity,omitempty"`
	WindSpeed   *float64         `json:"wind_speed,omitempty"`
	Visibility  *float64         `json:"visibility,omitempty"`
	Forecast    []map[string]any `json:"forecast,omitempty"`
}

func (WeatherAction) ActionType() string { return "weather" }

type MusicAction struct {
	Type         string           `json:"type"`
	Command      string           `json:"command,omitempty"`
	Artist       string           `json:"artist,omitempty"`
	Song         string           `json:"song,omitempty"`
	Genre        string           `json:"genre,omitempty"`
	Playlist     string           `json:"playlist,omitempty"`
	CurrentTrack map[string]any   `json:"current_track,omitempty"`
	Queue        []map[string]any `json:"queue,omitempty"`
}

func (MusicAction) ActionType() string { return "music" }

type IoTAction struct {
	Type       string           `json:"type"`
	Command    string           `json:"command,omitempty"`
	DeviceName string           `json:"device_name,omitempty"`
	Room       string           `json:"room,omitempty"`
	Color      string           `json:"color,omitempty"`
	Brightness any              `json:"brightness,omitempty"`
	Devices    []map[string]any `json:"devices,omitempty"`
}

func (IoTAction) ActionType() string { return "iot" }

type GeneralAction struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (GeneralAction) ActionType() string { return "general" }

// Response is the single result type of one processed input.
type Response struct {
	Response         string         `json:"response"`
	UIMode           string         `json:"ui_mode"`
	UIData           map[string]any `json:"ui_data,omitempty"`
	Action           ActionRecord   `json:"action,omitempty"`
	State            ResponseState  `json:"state"`
	NeedsMoreInfo    bool           `json:"needs_more_info"`
	FollowUpQuestion string         `json:"follow_up_question,omitempty"`
	Intent           string         `json:"intent,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Slots            Slots          `json:"slots"`
}

type ChatRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

// SessionView is the read-only projection of a session served over HTTP.
type SessionView struct {
	SessionID      string        `json:"session_id"`
	State          DialogueState `json:"state"`
	CurrentIntent  string        `json:"current_intent,omitempty"`
	CollectedSlots Slots         `json:"collected_slots"`
	MissingSlots   []SlotName    `json:"missing_slots"`
	AwaitingSlot   string        `json:"awaiting_slot,omitempty"`
	History        []Turn        `json:"history"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// ContextSnapshot is the persisted form of a dialogue context.
type ContextSnapshot struct {
	SessionID      string     `json:"session_id"`
	History        []Turn     `json:"history"`
	CurrentIntent  string     `json:"current_intent,omitempty"`
	CollectedSlots Slots      `json:"collected_slots,omitempty"`
	MissingSlots   []SlotName `json:"missing_slots,omitempty"`
	AwaitingSlot   string     `json:"awaiting_slot,omitempty"`
	Failures       int        `json:"failures,omitempty"`
	LastUpdated    time.Time  `json:"last_updated"`
}
