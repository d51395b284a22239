/*
Weather capabilities backed by the OpenWeatherMap API: current conditions and
the 5-day / 3-hour forecast. Raw API responses are compacted into short text
payloads the decision model can reason over; the agent itself never applies a
numeric weather threshold — qualitative judgment is the model's job.
*/
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const openWeatherMapBaseURL = "https://api.openweathermap.org/data/2.5"

var weatherLogger = logrus.WithField("capability", "weather")

// WeatherService holds the shared OpenWeatherMap access used by both weather
// capabilities. BaseURL and Client are overridable for tests.
type WeatherService struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// NewWeatherService returns a service against the public OpenWeatherMap API.
func NewWeatherService(apiKey string) *WeatherService {
	return &WeatherService{
		APIKey:  apiKey,
		BaseURL: openWeatherMapBaseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type weatherPayload struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type forecastPayload struct {
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	List []struct {
		DtTxt   string `json:"dt_txt"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Pop float64 `json:"pop"`
	} `json:"list"`
}

// get performs one OpenWeatherMap call and maps HTTP failures onto the
// capability failure taxonomy: 404 means the city is unknown, everything
// else unexpected means the provider is unavailable.
func (s *WeatherService) get(ctx context.Context, path, city string, out any) error {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", "metric")
	params.Set("appid", s.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build weather request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %q", ErrLocationNotFound, city)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: weather API returned status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode weather response: %v", ErrProviderUnavailable, err)
	}
	return nil
}

// CurrentWeatherTool reports current conditions for a city.
type CurrentWeatherTool struct {
	service *WeatherService
}

func NewCurrentWeatherTool(service *WeatherService) *CurrentWeatherTool {
	return &CurrentWeatherTool{service: service}
}

func (t *CurrentWeatherTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "get_current_weather",
		Purpose: "Get the current weather conditions of a city (today only).",
		Args: []ArgSpec{
			{Name: "city", Type: ArgTypeString, Required: true, Description: "City name, e.g. \"Paris\""},
		},
	}
}

func (t *CurrentWeatherTool) Execute(ctx context.Context, args Args) (string, error) {
	city := args.String("city")
	start := time.Now()

	var payload weatherPayload
	if err := t.service.get(ctx, "/weather", city, &payload); err != nil {
		weatherLogger.WithError(err).WithField("city", city).Error("Current weather lookup failed")
		return "", err
	}

	description := "unknown conditions"
	if len(payload.Weather) > 0 {
		description = payload.Weather[0].Description
	}

	weatherLogger.WithFields(logrus.Fields{
		"city":          city,
		"executionTime": time.Since(start),
	}).Info("Current weather lookup completed")

	return fmt.Sprintf("Current weather in %s: %s, %.1f°C (feels like %.1f°C), humidity %d%%, wind %.1f m/s.",
		payload.Name, description, payload.Main.Temp, payload.Main.FeelsLike,
		payload.Main.Humidity, payload.Wind.Speed), nil
}

// ForecastTool reports the 5-day / 3-hour forecast for a city.
type ForecastTool struct {
	service *WeatherService
}

func NewForecastTool(service *WeatherService) *ForecastTool {
	return &ForecastTool{service: service}
}

func (t *ForecastTool) Descriptor() CapabilityDescriptor {
	return CapabilityDescriptor{
		Name:    "get_weather_forecast",
		Purpose: "Get the 5 day / 3 hourly weather forecast of a city. Use this for any future date within 5 days.",
		Args: []ArgSpec{
			{Name: "city", Type: ArgTypeString, Required: true, Description: "City name, e.g. \"London\""},
		},
	}
}

func (t *ForecastTool) Execute(ctx context.Context, args Args) (string, error) {
	city := args.String("city")
	start := time.Now()

	var payload forecastPayload
	if err := t.service.get(ctx, "/forecast", city, &payload); err != nil {
		weatherLogger.WithError(err).WithField("city", city).Error("Forecast lookup failed")
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weather forecast for %s (3-hour steps):\n", payload.City.Name)
	for _, entry := range payload.List {
		description := "unknown conditions"
		if len(entry.Weather) > 0 {
			description = entry.Weather[0].Description
		}
		fmt.Fprintf(&b, "%s: %s, %.1f°C, precipitation chance %.0f%%, wind %.1f m/s\n",
			entry.DtTxt, description, entry.Main.Temp, entry.Pop*100, entry.Wind.Speed)
	}

	weatherLogger.WithFields(logrus.Fields{
		"city":          city,
		"entries":       len(payload.List),
		"executionTime": time.Since(start),
	}).Info("Forecast lookup completed")

	return strings.TrimRight(b.String(), "\n"), nil
}

var (
	_ Capability = (*CurrentWeatherTool)(nil)
	_ Capability = (*ForecastTool)(nil)
)
