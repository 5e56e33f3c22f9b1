package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WeatherConditions is the current-conditions document used for claim
// verification.
type WeatherConditions struct {
	Description   string  `json:"description"`
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	WindSpeedKmh  float64 `json:"windSpeedKmh"`
}

// WeatherProvider returns current conditions at a coordinate.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lng float64) (*WeatherConditions, error)
}

// STTProvider transcribes an audio attachment reference.
type STTProvider interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// OpenMeteoProvider fetches current conditions from the Open-Meteo API.
type OpenMeteoProvider struct {
	baseURL string
	client  *http.Client
}

// NewOpenMeteoProvider builds a weather provider with the given call timeout.
func NewOpenMeteoProvider(timeout time.Duration) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		baseURL: "https://api.open-meteo.com/v1/forecast",
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenMeteoProvider) Current(ctx context.Context, lat, lng float64) (*WeatherConditions, error) {
	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=temperature_2m,precipitation,wind_speed_10m",
		p.baseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather provider returned status %d", resp.StatusCode)
	}

	var body struct {
		Current struct {
			Temperature   float64 `json:"temperature_2m"`
			Precipitation float64 `json:"precipitation"`
			WindSpeed     float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}
	return &WeatherConditions{
		Temperature:   body.Current.Temperature,
		Precipitation: body.Current.Precipitation,
		WindSpeedKmh:  body.Current.WindSpeed,
	}, nil
}
