// Package weather fetches current conditions from OpenWeatherMap.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/banterbot/internal/config"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

var ErrNotConfigured = errors.New("weather backend not configured")

type Conditions struct {
	Location    string
	Temperature float64
	FeelsLike   *float64
	Humidity    *int
	Description string
}

// Summary renders conditions as a short Russian phrase, e.g.
// "Москва: +3°C (ощущается как -1°C), влажность 80%, пасмурно".
func (c Conditions) Summary() string {
	var sb strings.Builder
	if c.Location != "" {
		sb.WriteString(c.Location)
		sb.WriteString(": ")
	}
	sb.WriteString(formatTemp(c.Temperature))
	if c.FeelsLike != nil && math.Round(*c.FeelsLike) != math.Round(c.Temperature) {
		fmt.Fprintf(&sb, " (ощущается как %s)", formatTemp(*c.FeelsLike))
	}
	if c.Humidity != nil {
		fmt.Fprintf(&sb, ", влажность %d%%", *c.Humidity)
	}
	if c.Description != "" {
		sb.WriteString(", ")
		sb.WriteString(c.Description)
	}
	return sb.String()
}

func formatTemp(v float64) string {
	r := int(math.Round(v))
	if r > 0 {
		return "+" + strconv.Itoa(r) + "°C"
	}
	return strconv.Itoa(r) + "°C"
}

type Provider interface {
	Current(ctx context.Context, location string) (*Conditions, error)
}

type OpenWeatherMap struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewOpenWeatherMap(cfg config.WeatherConfig) *OpenWeatherMap {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultWeatherTimeout
	}
	return &OpenWeatherMap{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Current accepts a city name ("Moscow,RU") or a "lat,lon" pair.
func (w *OpenWeatherMap) Current(ctx context.Context, location string) (*Conditions, error) {
	if w.apiKey == "" {
		return nil, ErrNotConfigured
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("weather: empty location")
	}

	q := url.Values{}
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "ru")
	if lat, lon, ok := parseCoords(location); ok {
		q.Set("lat", lat)
		q.Set("lon", lon)
	} else {
		q.Set("q", location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather http %d: %s", resp.StatusCode, strings.TrimSpace(gjson.GetBytes(body, "message").String()))
	}
	return parseConditions(body)
}

func parseConditions(body []byte) (*Conditions, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("weather: malformed response")
	}
	temp := gjson.GetBytes(body, "main.temp")
	if !temp.Exists() || temp.Type != gjson.Number {
		return nil, fmt.Errorf("weather: response without temperature")
	}

	c := &Conditions{
		Location:    gjson.GetBytes(body, "name").String(),
		Temperature: temp.Float(),
		Description: gjson.GetBytes(body, "weather.0.description").String(),
	}
	if v := gjson.GetBytes(body, "main.feels_like"); v.Exists() {
		f := v.Float()
		c.FeelsLike = &f
	}
	if v := gjson.GetBytes(body, "main.humidity"); v.Exists() {
		h := int(v.Int())
		c.Humidity = &h
	}
	return c, nil
}

func parseCoords(s string) (lat, lon string, ok bool) {
	a, b, found := strings.Cut(s, ",")
	if !found {
		return "", "", false
	}
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if _, err := strconv.ParseFloat(a, 64); err != nil {
		return "", "", false
	}
	if _, err := strconv.ParseFloat(b, 64); err != nil {
		return "", "", false
	}
	return a, b, true
}
