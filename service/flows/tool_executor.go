package flows

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"nlu-agent/internal/llm"
	"nlu-agent/model"
)

// ToolResult is the outcome of one tool call. Data is what the model sees;
// UIMode and UIData drive the widget when this is the last tool used.
type ToolResult struct {
	Success bool
	Data    any
	UIMode  string
	UIData  map[string]any
	Text    string
}

// JSON renders Data for the tool message.
func (r ToolResult) JSON() string {
	bs, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(bs)
}

func toolFailure(msg, text string) ToolResult {
	return ToolResult{
		Data:   map[string]any{"error": msg},
		UIMode: model.UIModeAIResponse,
		Text:   text,
	}
}

// ToolExecutor runs assistant tool calls against the category services.
// Failures are reported inside the ToolResult so the model can recover.
type ToolExecutor struct {
	weather WeatherProvider
	music   MusicSearcher
	devices *DeviceRegistry
	search  WebSearcher
	logger  *zap.Logger
}

func NewToolExecutor(weather WeatherProvider, music MusicSearcher, devices *DeviceRegistry, search WebSearcher, logger *zap.Logger) *ToolExecutor {
	if devices == nil {
		devices = NewDeviceRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{
		weather: weather,
		music:   music,
		devices: devices,
		search:  search,
		logger:  logger.Named("tools"),
	}
}

type toolArgs struct {
	Location   string `json:"location"`
	Song       string `json:"song"`
	Artist     string `json:"artist"`
	Query      string `json:"query"`
	Action     string `json:"action"`
	DeviceName string `json:"device_name"`
	Room       string `json:"room"`
	Brightness *int   `json:"brightness"`
	Color      string `json:"color"`
}

func (e *ToolExecutor) Execute(ctx context.Context, sessionID, name, arguments string) ToolResult {
	var args toolArgs
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			e.logger.Warn("Bad tool arguments", zap.String("tool", name), zap.Error(err))
			return toolFailure("invalid arguments: "+err.Error(), "There was an error: invalid tool arguments.")
		}
	}

	e.logger.Debug("Executing tool", zap.String("tool", name), zap.String("session_id", sessionID))

	switch name {
	case llm.ToolGetWeather:
		return e.weatherTool(ctx, args)
	case llm.ToolPlayMusic:
		return e.musicTool(ctx, args)
	case llm.ToolControlDevice:
		return e.deviceTool(sessionID, args)
	case llm.ToolWebSearch:
		return e.searchTool(ctx, args)
	default:
		return toolFailure("unknown tool: "+name, fmt.Sprintf("I don't know how to use the tool '%s'.", name))
	}
}

func (e *ToolExecutor) weatherTool(ctx context.Context, args toolArgs) ToolResult {
	if args.Location == "" {
		return toolFailure("no location provided", "I need a location to check the weather.")
	}
	if e.weather == nil {
		return toolFailure(ErrWeatherNotConfigured.Error(), fmt.Sprintf("Couldn't get weather for %s.", args.Location))
	}

	report, err := e.weather.Forecast(ctx, args.Location)
	if err != nil {
		return toolFailure(err.Error(), fmt.Sprintf("Couldn't get weather for %s.", args.Location))
	}
	return ToolResult{
		Success: true,
		Data: map[string]any{
			"location":    report.Location,
			"temperature": report.Temperature,
			"condition":   report.Condition,
			"humidity":    report.Humidity,
			"wind":        report.WindSpeed,
			"forecast":    report.Forecast,
		},
		UIMode: model.UIModeWeather,
		UIData: report.UIData(),
		Text:   report.Summary(),
	}
}

func (e *ToolExecutor) musicTool(ctx context.Context, args toolArgs) ToolResult {
	var query string
	switch {
	case args.Song != "" && args.Artist != "":
		query = fmt.Sprintf("%s by %s", args.Song, args.Artist)
	case args.Song != "":
		query = args.Song
	case args.Artist != "":
		query = "songs by " + args.Artist
	case args.Query != "":
		query = args.Query
	default:
		return toolFailure("no search criteria provided", "What would you like me to play?")
	}
	if e.music == nil {
		return toolFailure("music search not available", fmt.Sprintf("Couldn't find music for '%s'.", query))
	}

	tracks, err := e.music.Search(ctx, query)
	if err != nil {
		return toolFailure(err.Error(), fmt.Sprintf("Couldn't find music for '%s'.", query))
	}
	now := tracks[0]
	return ToolResult{
		Success: true,
		Data: map[string]any{
			"now_playing": now,
			"queue":       queueOf(tracks[1:]),
		},
		UIMode: model.UIModeMusic,
		UIData: playerUIData(tracks),
		Text:   fmt.Sprintf("Playing %s by %s", now.Title, now.Artist),
	}
}

func (e *ToolExecutor) deviceTool(sessionID string, args toolArgs) ToolResult {
	if args.Action == "" {
		return toolFailure("no action specified", "What would you like me to do with the device?")
	}

	target := args.DeviceName
	if target == "" {
		target = args.Room
	}
	if target == "" {
		target = "lights"
	}

	cmd := DeviceCommand{DeviceName: target, Action: ActionToggle, Color: args.Color}
	done := "updated"
	switch args.Action {
	case "turn_on":
		cmd.Action, done = ActionOn, "turned on"
	case "turn_off":
		cmd.Action, done = ActionOff, "turned off"
	case "set_brightness":
		level := 50
		if args.Brightness != nil {
			level = *args.Brightness
		}
		cmd.Action, cmd.Value = ActionSet, &level
		done = fmt.Sprintf("set to %d%% brightness", level)
	case "set_color":
		cmd.Action = ActionSet
		done = "changed to " + args.Color
	}

	res, err := e.devices.Control(sessionID, cmd)
	uiData := map[string]any{"devices": devicesToMaps(res.Devices)}
	if err != nil {
		return ToolResult{
			Data:   map[string]any{"action": args.Action, "device": target, "result": "error", "error": err.Error()},
			UIMode: model.UIModeSmartHome,
			UIData: uiData,
			Text:   fmt.Sprintf("No device found matching '%s'", target),
		}
	}
	return ToolResult{
		Success: true,
		Data:    map[string]any{"action": args.Action, "device": target, "result": "success", "results": res.Changes},
		UIMode:  model.UIModeSmartHome,
		UIData:  uiData,
		Text:    fmt.Sprintf("Done! %s has been %s.", target, done),
	}
}

func (e *ToolExecutor) searchTool(ctx context.Context, args toolArgs) ToolResult {
	if args.Query == "" {
		return toolFailure("no search query provided", "What would you like me to search for?")
	}
	if e.search == nil {
		return toolFailure("search not available", "I had trouble searching for that.")
	}

	res, err := e.search.Search(ctx, args.Query)
	if err != nil {
		return toolFailure(err.Error(), fmt.Sprintf("I had trouble searching for that. Error: %s", err))
	}
	return ToolResult{
		Success: true,
		Data:    res,
		UIMode:  model.UIModeAIResponse,
		UIData:  res.UIData(),
		Text:    res.Summary(),
	}
}
