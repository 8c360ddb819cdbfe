package llm

// ToolDefinition defines a tool that can be called by the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition builds a tool with an object JSON Schema.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		p := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			p["enum"] = v.Enum
		}
		props[k] = p
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// Tool names exposed to the assistant.
const (
	ToolGetWeather    = "get_weather"
	ToolPlayMusic     = "play_music"
	ToolControlDevice = "control_device"
	ToolWebSearch     = "web_search"
)

// AssistantTools returns the tools the open-ended assistant may call.
func AssistantTools() []ToolDefinition {
	return []ToolDefinition{
		NewToolDefinition(
			ToolGetWeather,
			"Get current weather and forecast for a location. Use this when the user asks about weather, temperature, or forecast.",
			map[string]ParameterProperty{
				"location": {Type: "string", Description: "City name or location (e.g., 'New York', 'Tokyo', 'London')"},
			},
			[]string{"location"},
		),
		NewToolDefinition(
			ToolPlayMusic,
			"Search and play music by song name, artist, genre, or mood. Use this when the user wants to play, listen to, or hear music.",
			map[string]ParameterProperty{
				"song":   {Type: "string", Description: "Name of the song to play"},
				"artist": {Type: "string", Description: "Name of the artist"},
				"query":  {Type: "string", Description: "General search query (genre, mood, playlist name)"},
			},
			nil,
		),
		NewToolDefinition(
			ToolControlDevice,
			"Control smart home devices like lights and switches. Use this when the user wants to turn on/off, dim, or change color of devices.",
			map[string]ParameterProperty{
				"action": {
					Type:        "string",
					Description: "The action to perform",
					Enum:        []string{"turn_on", "turn_off", "set_brightness", "set_color"},
				},
				"device_name": {Type: "string", Description: "Name of the device (e.g., 'living room lights')"},
				"room":        {Type: "string", Description: "Room where the device is located"},
				"brightness":  {Type: "integer", Description: "Brightness level 0-100 (for set_brightness action)"},
				"color":       {Type: "string", Description: "Color name (e.g., 'red', 'blue', 'warm white')"},
			},
			[]string{"action"},
		),
		NewToolDefinition(
			ToolWebSearch,
			"Search the web for current information, news, facts, or any topic the user is curious about.",
			map[string]ParameterProperty{
				"query": {Type: "string", Description: "The search query"},
			},
			[]string{"query"},
		),
	}
}
