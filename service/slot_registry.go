package service

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"nlu-agent/model"
)

var ErrUnknownSlot = errors.New("unknown slot name")

// SlotRegistry is the read-only slot schema: per-intent slot lists, the
// classifier alias table and the follow-up prompt for every canonical slot.
// It is built once at startup and never mutated afterwards.
type SlotRegistry struct {
	schemas    map[string]model.SlotSchema
	categories map[string]model.Category
	aliases    map[string]model.SlotName
	prompts    map[model.SlotName]string
}

var defaultSchemas = map[string]model.SlotSchema{
	"weather_query": {
		Required: []model.SlotName{model.SlotLocation},
		Optional: []model.SlotName{model.SlotDatetime},
	},

	"play_music": {
		Optional: []model.SlotName{model.SlotArtist, model.SlotSong, model.SlotGenre, model.SlotPlaylist},
	},
	"play_radio": {
		Optional: []model.SlotName{model.SlotStation, model.SlotGenre},
	},
	"play_podcasts": {
		Optional: []model.SlotName{model.SlotPodcastName, model.SlotEpisode},
	},
	"play_audiobook": {
		Optional: []model.SlotName{model.SlotBookName, model.SlotAuthor},
	},

	"iot_hue_lighton": {
		Required: []model.SlotName{model.SlotDeviceName},
		Optional: []model.SlotName{model.SlotRoom},
	},
	"iot_hue_lightoff": {
		Required: []model.SlotName{model.SlotDeviceName},
		Optional: []model.SlotName{model.SlotRoom},
	},
	"iot_hue_lightchange": {
		Required: []model.SlotName{model.SlotColor},
		Optional: []model.SlotName{model.SlotDeviceName, model.SlotRoom, model.SlotBrightness},
	},
	"iot_hue_lightup": {
		Optional: []model.SlotName{model.SlotDeviceName, model.SlotRoom, model.SlotBrightness},
	},
	"iot_hue_lightdim": {
		Optional: []model.SlotName{model.SlotDeviceName, model.SlotRoom, model.SlotBrightness},
	},
	"iot_wemo_on": {
		Required: []model.SlotName{model.SlotDeviceName},
		Optional: []model.SlotName{model.SlotRoom},
	},
	"iot_wemo_off": {
		Required: []model.SlotName{model.SlotDeviceName},
		Optional: []model.SlotName{model.SlotRoom},
	},
	"iot_coffee": {
		Optional: []model.SlotName{model.SlotStrength, model.SlotSize},
	},
	"iot_cleaning": {
		Optional: []model.SlotName{model.SlotRoom, model.SlotMode},
	},

	"general_greet":  {},
	"general_joke":   {},
	"general_quirky": {},
}

var defaultCategories = map[string]model.Category{
	"weather_query": model.CategoryWeather,

	"play_music":     model.CategoryMusic,
	"play_radio":     model.CategoryMusic,
	"play_podcasts":  model.CategoryMusic,
	"play_audiobook": model.CategoryMusic,

	"iot_hue_lighton":     model.CategoryIoT,
	"iot_hue_lightoff":    model.CategoryIoT,
	"iot_hue_lightchange": model.CategoryIoT,
	"iot_hue_lightup":     model.CategoryIoT,
	"iot_hue_lightdim":    model.CategoryIoT,
	"iot_wemo_on":         model.CategoryIoT,
	"iot_wemo_off":        model.CategoryIoT,
	"iot_coffee":          model.CategoryIoT,
	"iot_cleaning":        model.CategoryIoT,

	"general_greet":  model.CategoryGeneral,
	"general_joke":   model.CategoryGeneral,
	"general_quirky": model.CategoryGeneral,
}

// Classifier slot names mapped onto canonical names.
var defaultAliases = map[string]model.SlotName{
	"place_name": model.SlotLocation,

	"date":      model.SlotDatetime,
	"time":      model.SlotDatetime,
	"timeofday": model.SlotDatetime,

	"song_name":        model.SlotSong,
	"artist_name":      model.SlotArtist,
	"music_genre":      model.SlotGenre,
	"music_album":      model.SlotAlbum,
	"playlist_name":    model.SlotPlaylist,
	"music_descriptor": model.SlotGenre,

	"radio_name":         model.SlotStation,
	"podcast_descriptor": model.SlotPodcastName,

	"audiobook_name":   model.SlotBookName,
	"audiobook_author": model.SlotAuthor,

	"device_type":   model.SlotDeviceName,
	"house_place":   model.SlotRoom,
	"color_type":    model.SlotColor,
	"change_amount": model.SlotBrightness,

	"coffee_type": model.SlotStrength,
	"drink_type":  model.SlotStrength,
}

var defaultPrompts = map[model.SlotName]string{
	model.SlotLocation:    "What city would you like the weather for?",
	model.SlotRoom:        "Which room?",
	model.SlotDeviceName:  "Which device would you like to control?",
	model.SlotDatetime:    "For what date and time?",
	model.SlotArtist:      "Which artist would you like to listen to?",
	model.SlotSong:        "Which song would you like to play?",
	model.SlotGenre:       "What genre of music would you like?",
	model.SlotPlaylist:    "Which playlist would you like to play?",
	model.SlotStation:     "Which radio station?",
	model.SlotPodcastName: "Which podcast would you like to listen to?",
	model.SlotBookName:    "Which audiobook would you like?",
	model.SlotColor:       "What color would you like?",
	model.SlotBrightness:  "What brightness level? (0-100)",
	model.SlotStrength:    "What coffee strength would you prefer?",
	model.SlotSize:        "What size cup?",
	model.SlotMode:        "Which cleaning mode?",
}

// NewSlotRegistry returns the built-in registry.
func NewSlotRegistry() *SlotRegistry {
	r := &SlotRegistry{
		schemas:    make(map[string]model.SlotSchema, len(defaultSchemas)),
		categories: make(map[string]model.Category, len(defaultCategories)),
		aliases:    make(map[string]model.SlotName, len(defaultAliases)),
		prompts:    make(map[model.SlotName]string, len(defaultPrompts)),
	}
	for k, v := range defaultSchemas {
		r.schemas[k] = v
	}
	for k, v := range defaultCategories {
		r.categories[k] = v
	}
	for k, v := range defaultAliases {
		r.aliases[k] = v
	}
	for k, v := range defaultPrompts {
		r.prompts[k] = v
	}
	return r
}

// LoadSlotRegistry returns the built-in registry overlaid with the intent file at
// path. An empty path yields the built-in registry.
func LoadSlotRegistry(path string) (*SlotRegistry, error) {
	r := NewSlotRegistry()
	if path == "" {
		return r, nil
	}

	cfg, err := LoadIntentConfig(path)
	if err != nil {
		return nil, err
	}
	if err := r.apply(cfg); err != nil {
		return nil, fmt.Errorf("apply %s: %w", path, err)
	}
	return r, nil
}

// LoadIntentConfig reads an intent schema file.
func LoadIntentConfig(path string) (*model.IntentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent config: %w", err)
	}

	var cfg model.IntentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse intent config: %w", err)
	}
	return &cfg, nil
}

func (r *SlotRegistry) apply(cfg *model.IntentConfig) error {
	for _, def := range cfg.Intents {
		if def.ID == "" {
			return fmt.Errorf("%w: intent without id", ErrInvalidParam)
		}
		if !def.IsEnabled() {
			delete(r.schemas, def.ID)
			delete(r.categories, def.ID)
			continue
		}
		for _, name := range append(append([]model.SlotName{}, def.Required...), def.Optional...) {
			if !name.IsCanonical() {
				return fmt.Errorf("%w: %q in intent %s", ErrUnknownSlot, name, def.ID)
			}
		}
		r.schemas[def.ID] = model.SlotSchema{Required: def.Required, Optional: def.Optional}
		if def.Category != "" {
			switch def.Category {
			case model.CategoryWeather, model.CategoryMusic, model.CategoryIoT, model.CategoryGeneral:
				r.categories[def.ID] = def.Category
			default:
				return fmt.Errorf("%w: category %q in intent %s", ErrInvalidParam, def.Category, def.ID)
			}
		}
	}
	for raw, name := range cfg.Aliases {
		if !name.IsCanonical() {
			return fmt.Errorf("%w: alias %s -> %q", ErrUnknownSlot, raw, name)
		}
		r.aliases[raw] = name
	}
	for name, prompt := range cfg.Prompts {
		if !name.IsCanonical() {
			return fmt.Errorf("%w: prompt for %q", ErrUnknownSlot, name)
		}
		r.prompts[name] = prompt
	}
	return nil
}

// RequiredSlots returns the required slots of intent in declaration order.
// Unregistered intents have none.
func (r *SlotRegistry) RequiredSlots(intent string) []model.SlotName {
	return append([]model.SlotName{}, r.schemas[intent].Required...)
}

func (r *SlotRegistry) OptionalSlots(intent string) []model.SlotName {
	return append([]model.SlotName{}, r.schemas[intent].Optional...)
}

// HasIntent reports whether intent has a registered schema.
func (r *SlotRegistry) HasIntent(intent string) bool {
	_, ok := r.schemas[intent]
	return ok
}

// Normalize maps a classifier slot name to its canonical name. Names without
// an alias pass through unchanged.
func (r *SlotRegistry) Normalize(raw string) model.SlotName {
	if name, ok := r.aliases[raw]; ok {
		return name
	}
	return model.SlotName(raw)
}

// NormalizeSlots renames every key of raw through the alias table. When two raw
// keys collapse onto one name, the key that sorts last wins.
func (r *SlotRegistry) NormalizeSlots(raw map[string]any) model.Slots {
	out := make(model.Slots, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[r.Normalize(k)] = raw[k]
	}
	return out
}

// PromptFor returns the follow-up question for a canonical slot.
func (r *SlotRegistry) PromptFor(name model.SlotName) string {
	if p, ok := r.prompts[name]; ok {
		return p
	}
	return fmt.Sprintf("Please provide %s.", name)
}

func (r *SlotRegistry) categoryOf(intent string) (model.Category, bool) {
	c, ok := r.categories[intent]
	return c, ok
}
