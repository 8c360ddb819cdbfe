package flows

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlu-agent/model"
)

const forecastJSON = `{
  "location": {"name": "Paris", "region": "Ile-de-France"},
  "current": {
    "temp_c": 18.6, "feelslike_c": 17.2, "humidity": 62, "wind_kph": 11.5, "vis_km": 10,
    "condition": {"text": "Partly cloudy", "icon": "//cdn.weatherapi.com/116.png", "code": 1003}
  },
  "forecast": {"forecastday": [
    {"date": "2024-05-06", "day": {"maxtemp_c": 20.4, "mintemp_c": 11.1, "condition": {"code": 1000}}},
    {"date": "2024-05-07", "day": {"maxtemp_c": 17.0, "mintemp_c": 9.8, "condition": {"code": 1183}}},
    {"date": "2024-05-08", "day": {"maxtemp_c": 15.2, "mintemp_c": 8.0, "condition": {"code": 1087}}},
    {"date": "2024-05-09", "day": {"maxtemp_c": 14.0, "mintemp_c": 7.0, "condition": {"code": 1213}}}
  ]}
}`

func newWeatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast.json" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("q") == "Atlantis" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
			return
		}
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "4", r.URL.Query().Get("days"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeatherClient_Forecast(t *testing.T) {
	srv := newWeatherServer(t)
	client := NewWeatherClient(WeatherConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)

	report, err := client.Forecast(context.Background(), "Paris")
	require.NoError(t, err)

	assert.Equal(t, "Paris, Ile-de-France", report.Location)
	assert.Equal(t, 19, report.Temperature)
	assert.Equal(t, 17, report.FeelsLike)
	assert.Equal(t, 12, report.WindSpeed)
	assert.Equal(t, "Partly cloudy", report.Condition)
	assert.Equal(t, "https://cdn.weatherapi.com/116.png", report.IconURL)
	assert.Equal(t, "cloud", report.Icon)
	require.Len(t, report.Forecast, 3)
	assert.Equal(t, ForecastDay{Day: "Mon", High: 20, Low: 11, Icon: "sun"}, report.Forecast[0])
	assert.Equal(t, "rain", report.Forecast[1].Icon)
	assert.Equal(t, "storm", report.Forecast[2].Icon)
	assert.Equal(t, "The weather in Paris, Ile-de-France is currently 19°C and partly cloudy.", report.Summary())
}

func TestWeatherClient_Errors(t *testing.T) {
	srv := newWeatherServer(t)

	_, err := NewWeatherClient(WeatherConfig{BaseURL: srv.URL}, nil).Forecast(context.Background(), "Paris")
	assert.ErrorIs(t, err, ErrWeatherNotConfigured)

	client := NewWeatherClient(WeatherConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
	_, err = client.Forecast(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer broken.Close()
	_, err = NewWeatherClient(WeatherConfig{BaseURL: broken.URL, APIKey: "k"}, nil).Forecast(context.Background(), "Paris")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

type stubWeather struct {
	report *WeatherReport
	err    error
}

func (s stubWeather) Forecast(ctx context.Context, location string) (*WeatherReport, error) {
	return s.report, s.err
}

func TestWeatherHandler_Handle(t *testing.T) {
	report := &WeatherReport{
		Location: "Oslo, Oslo", Temperature: 4, Condition: "Light snow", Humidity: 80,
		WindSpeed: 9, Visibility: 6,
		Forecast: []ForecastDay{{Day: "Tue", High: 5, Low: -2, Icon: "snow"}},
	}
	h := NewWeatherHandler(stubWeather{report: report}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{
		Slots: model.Slots{model.SlotLocation: "Oslo", model.SlotDatetime: "tomorrow"},
	})
	require.NoError(t, err)

	assert.Equal(t, "The weather in Oslo, Oslo is currently 4°C and light snow.", res.ResponseText)
	assert.Equal(t, model.UIModeWeather, res.UIMode)
	assert.Equal(t, 4, res.UIData["temperature"])

	action, ok := res.Action.(model.WeatherAction)
	require.True(t, ok)
	assert.Equal(t, "tomorrow", action.Datetime)
	require.NotNil(t, action.Temperature)
	assert.Equal(t, 4.0, *action.Temperature)
	assert.Len(t, action.Forecast, 1)
}

func TestWeatherHandler_UnknownLocation(t *testing.T) {
	h := NewWeatherHandler(stubWeather{err: ErrLocationNotFound}, nil)

	res, err := h.Handle(context.Background(), model.HandlerRequest{Slots: model.Slots{model.SlotLocation: "Atlantis"}})
	require.NoError(t, err)
	assert.Equal(t, "Could not find weather data for 'Atlantis'", res.ResponseText)
	assert.Equal(t, true, res.UIData["error"])
}

func TestWeatherHandler_Failures(t *testing.T) {
	h := NewWeatherHandler(stubWeather{err: errors.New("timeout")}, nil)

	_, err := h.Handle(context.Background(), model.HandlerRequest{Slots: model.Slots{model.SlotLocation: "Oslo"}})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), model.HandlerRequest{Slots: model.Slots{}})
	assert.ErrorIs(t, err, ErrMissingSlot)
}
