package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"nlu-agent/model"
)

var (
	ErrWeatherNotConfigured = errors.New("weather api key not configured")
	ErrLocationNotFound     = errors.New("location not found")
)

const (
	DefaultWeatherBaseURL = "http://api.weatherapi.com/v1"
	forecastDays          = 4
	forecastShown         = 3
)

// WeatherProvider fetches current conditions and a short forecast.
type WeatherProvider interface {
	Forecast(ctx context.Context, location string) (*WeatherReport, error)
}

type ForecastDay struct {
	Day  string `json:"day"`
	High int    `json:"high"`
	Low  int    `json:"low"`
	Icon string `json:"icon"`
}

// WeatherReport is in metric units: Celsius, km/h and km.
type WeatherReport struct {
	Temperature int           `json:"temperature"`
	Condition   string        `json:"condition"`
	Humidity    int           `json:"humidity"`
	WindSpeed   int           `json:"windSpeed"`
	Visibility  int           `json:"visibility"`
	Location    string        `json:"location"`
	FeelsLike   int           `json:"feelsLike"`
	Forecast    []ForecastDay `json:"forecast"`
	Icon        string        `json:"icon"`
	IconURL     string        `json:"iconUrl"`
}

// UIData is the widget payload.
func (r *WeatherReport) UIData() map[string]any {
	forecast := make([]map[string]any, 0, len(r.Forecast))
	for _, d := range r.Forecast {
		forecast = append(forecast, map[string]any{"day": d.Day, "high": d.High, "low": d.Low, "icon": d.Icon})
	}
	return map[string]any{
		"temperature": r.Temperature,
		"condition":   r.Condition,
		"humidity":    r.Humidity,
		"windSpeed":   r.WindSpeed,
		"visibility":  r.Visibility,
		"location":    r.Location,
		"feelsLike":   r.FeelsLike,
		"forecast":    forecast,
		"icon":        r.Icon,
		"iconUrl":     r.IconURL,
	}
}

// Summary is the spoken sentence for the report.
func (r *WeatherReport) Summary() string {
	return fmt.Sprintf("The weather in %s is currently %d°C and %s.", r.Location, r.Temperature, strings.ToLower(r.Condition))
}

type WeatherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// WeatherClient calls the WeatherAPI.com forecast endpoint.
type WeatherClient struct {
	baseURL string
	apiKey  string
	httpCli *http.Client
	logger  *zap.Logger
}

func NewWeatherClient(cfg WeatherConfig, logger *zap.Logger) *WeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpCli: &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("weather"),
	}
}

type weatherCondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

type forecastResponse struct {
	Location struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	} `json:"location"`
	Current struct {
		TempC      float64          `json:"temp_c"`
		FeelsLikeC float64          `json:"feelslike_c"`
		Humidity   int              `json:"humidity"`
		WindKph    float64          `json:"wind_kph"`
		VisKm      float64          `json:"vis_km"`
		Condition  weatherCondition `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC  float64          `json:"maxtemp_c"`
				MinTempC  float64          `json:"mintemp_c"`
				Condition weatherCondition `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (c *WeatherClient) Forecast(ctx context.Context, location string) (*WeatherReport, error) {
	if c.apiKey == "" {
		return nil, ErrWeatherNotConfigured
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", location)
	q.Set("days", fmt.Sprint(forecastDays))
	q.Set("aqi", "no")
	q.Set("alerts", "no")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast.json?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("weather api returned %d: %s", resp.StatusCode, body)
	}

	var fr forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}

	report := &WeatherReport{
		Temperature: round(fr.Current.TempC),
		Condition:   fr.Current.Condition.Text,
		Humidity:    fr.Current.Humidity,
		WindSpeed:   round(fr.Current.WindKph),
		Visibility:  round(fr.Current.VisKm),
		Location:    fmt.Sprintf("%s, %s", fr.Location.Name, fr.Location.Region),
		FeelsLike:   round(fr.Current.FeelsLikeC),
		Icon:        iconFor(fr.Current.Condition.Code),
	}
	if report.Condition == "" {
		report.Condition = "Unknown"
	}
	if fr.Current.Condition.Icon != "" {
		report.IconURL = "https:" + fr.Current.Condition.Icon
	}
	for i, d := range fr.Forecast.ForecastDay {
		if i == forecastShown {
			break
		}
		report.Forecast = append(report.Forecast, ForecastDay{
			Day:  dayName(d.Date),
			High: round(d.Day.MaxTempC),
			Low:  round(d.Day.MinTempC),
			Icon: iconFor(d.Day.Condition.Code),
		})
	}

	c.logger.Debug("Fetched forecast", zap.String("location", report.Location), zap.Int("temperature", report.Temperature))
	return report, nil
}

func round(v float64) int { return int(math.Round(v)) }

func dayName(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "N/A"
	}
	return t.Format("Mon")
}

// iconFor maps a WeatherAPI condition code to a widget icon.
func iconFor(code int) string {
	switch code {
	case 1000:
		return "sun"
	case 1063, 1180, 1183, 1186, 1189, 1192, 1195, 1240, 1243, 1246:
		return "rain"
	case 1066, 1114, 1210, 1213, 1216, 1219, 1222, 1225, 1255, 1258:
		return "snow"
	case 1087, 1273, 1276, 1279, 1282:
		return "storm"
	default:
		return "cloud"
	}
}

// WeatherHandler serves weather intents.
type WeatherHandler struct {
	provider WeatherProvider
	logger   *zap.Logger
}

func NewWeatherHandler(provider WeatherProvider, logger *zap.Logger) *WeatherHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherHandler{provider: provider, logger: logger.Named("weather-handler")}
}

func (h *WeatherHandler) Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
	location := req.Slots.String(model.SlotLocation)
	if location == "" {
		return nil, fmt.Errorf("%w: location", ErrMissingSlot)
	}

	report, err := h.provider.Forecast(ctx, location)
	if errors.Is(err, ErrLocationNotFound) {
		msg := fmt.Sprintf("Could not find weather data for '%s'", location)
		return &model.HandlerResult{
			ResponseText: msg,
			UIMode:       model.UIModeWeather,
			UIData:       map[string]any{"error": true, "message": msg, "location": location},
			Action:       model.WeatherAction{Type: "weather", Location: location},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	temp := float64(report.Temperature)
	wind := float64(report.WindSpeed)
	vis := float64(report.Visibility)
	humidity := report.Humidity
	uiData := report.UIData()

	return &model.HandlerResult{
		ResponseText: report.Summary(),
		UIMode:       model.UIModeWeather,
		UIData:       uiData,
		Action: model.WeatherAction{
			Type:        "weather",
			Location:    report.Location,
			Datetime:    req.Slots.String(model.SlotDatetime),
			Temperature: &temp,
			Condition:   report.Condition,
			Humidity:    &humidity,
			WindSpeed:   &wind,
			Visibility:  &vis,
			Forecast:    uiData["forecast"].([]map[string]any),
		},
	}, nil
}
